// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets

import "github.com/absmach/routemq/codec"

// Field order per kind is fixed by the wire format. decode mirrors encode.

func (p *Message) encode(w *codec.Writer) {
	w.PutUUID(p.ID)
	w.PutString(p.Route)
	w.PutBlob(p.Data)
}

func (p *Message) decode(r *codec.Reader) (err error) {
	if p.ID, err = r.ReadUUID(); err != nil {
		return err
	}
	if p.Route, err = r.ReadString(); err != nil {
		return err
	}
	p.Data, err = r.ReadBlob()
	return err
}

func (p *TopicMessage) encode(w *codec.Writer) {
	w.PutUUID(p.ID)
	w.PutString(p.Topic)
	w.PutString(p.Route)
	w.PutBlob(p.Data)
}

func (p *TopicMessage) decode(r *codec.Reader) (err error) {
	if p.ID, err = r.ReadUUID(); err != nil {
		return err
	}
	if p.Topic, err = r.ReadString(); err != nil {
		return err
	}
	if p.Route, err = r.ReadString(); err != nil {
		return err
	}
	p.Data, err = r.ReadBlob()
	return err
}

func (p *Ack) encode(w *codec.Writer) { w.PutUUID(p.ID) }

func (p *Ack) decode(r *codec.Reader) (err error) {
	p.ID, err = r.ReadUUID()
	return err
}

func (p *Nack) encode(w *codec.Writer) { w.PutUUID(p.ID) }

func (p *Nack) decode(r *codec.Reader) (err error) {
	p.ID, err = r.ReadUUID()
	return err
}

func (p *Ok) encode(w *codec.Writer) { w.PutUUID(p.ID) }

func (p *Ok) decode(r *codec.Reader) (err error) {
	p.ID, err = r.ReadUUID()
	return err
}

func (p *Error) encode(w *codec.Writer) {
	w.PutUUID(p.ID)
	w.PutString(p.Message)
}

func (p *Error) decode(r *codec.Reader) (err error) {
	if p.ID, err = r.ReadUUID(); err != nil {
		return err
	}
	p.Message, err = r.ReadString()
	return err
}

func (p *SubscribeTopic) encode(w *codec.Writer) {
	w.PutUUID(p.ID)
	w.PutString(p.Topic)
}

func (p *SubscribeTopic) decode(r *codec.Reader) (err error) {
	if p.ID, err = r.ReadUUID(); err != nil {
		return err
	}
	p.Topic, err = r.ReadString()
	return err
}

func (p *UnsubscribeTopic) encode(w *codec.Writer) {
	w.PutUUID(p.ID)
	w.PutString(p.Topic)
}

func (p *UnsubscribeTopic) decode(r *codec.Reader) (err error) {
	if p.ID, err = r.ReadUUID(); err != nil {
		return err
	}
	p.Topic, err = r.ReadString()
	return err
}

func (p *TopicDeclare) encode(w *codec.Writer) {
	w.PutUUID(p.ID)
	w.PutString(p.Topic)
	w.PutString(p.Route)
}

func (p *TopicDeclare) decode(r *codec.Reader) (err error) {
	if p.ID, err = r.ReadUUID(); err != nil {
		return err
	}
	if p.Topic, err = r.ReadString(); err != nil {
		return err
	}
	p.Route, err = r.ReadString()
	return err
}

func (p *TopicDelete) encode(w *codec.Writer) {
	w.PutUUID(p.ID)
	w.PutString(p.Topic)
}

func (p *TopicDelete) decode(r *codec.Reader) (err error) {
	if p.ID, err = r.ReadUUID(); err != nil {
		return err
	}
	p.Topic, err = r.ReadString()
	return err
}

func (p *ConfigureClient) encode(w *codec.Writer) {
	w.PutUUID(p.ID)
	w.PutInt(p.Prefetch)
}

func (p *ConfigureClient) decode(r *codec.Reader) (err error) {
	if p.ID, err = r.ReadUUID(); err != nil {
		return err
	}
	p.Prefetch, err = r.ReadInt()
	return err
}
