// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package router indexes topic route patterns in a level trie so a publish
// route is matched without scanning every declared topic.
package router

import (
	"strings"
	"sync"

	"github.com/absmach/routemq/topics"
)

// TrieRouter maps route patterns to the names of the topics bound to them.
type TrieRouter struct {
	mu   sync.RWMutex
	root *node
	size int
}

type node struct {
	children map[string]*node
	names    []string // topics bound to the pattern ending at this level
}

// NewRouter returns a new instance.
func NewRouter() *TrieRouter {
	return &TrieRouter{root: newNode()}
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Add binds name to pattern. Adding the same pair twice is a no-op.
func (r *TrieRouter) Add(pattern, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.root
	for _, level := range strings.Split(pattern, topics.Separator) {
		child, ok := n.children[level]
		if !ok {
			child = newNode()
			n.children[level] = child
		}
		n = child
	}
	for _, existing := range n.names {
		if existing == name {
			return
		}
	}
	n.names = append(n.names, name)
	r.size++
}

// Remove unbinds name from pattern and prunes empty branches.
func (r *TrieRouter) Remove(pattern, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	levels := strings.Split(pattern, topics.Separator)
	path := make([]*node, 0, len(levels)+1)
	n := r.root
	path = append(path, n)
	for _, level := range levels {
		child, ok := n.children[level]
		if !ok {
			return false
		}
		n = child
		path = append(path, n)
	}

	idx := -1
	for i, existing := range n.names {
		if existing == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	n.names = append(n.names[:idx], n.names[idx+1:]...)
	r.size--

	for i := len(levels) - 1; i >= 0; i-- {
		child := path[i+1]
		if len(child.names) > 0 || len(child.children) > 0 {
			break
		}
		delete(path[i].children, levels[i])
	}
	return true
}

// Len returns the number of bound pattern and name pairs.
func (r *TrieRouter) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Match returns the names of every topic whose pattern matches route.
func (r *TrieRouter) Match(route string) []string {
	if route == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []string
	matchLevel(r.root, strings.Split(route, topics.Separator), 0, &matched)
	return matched
}

func matchLevel(n *node, levels []string, index int, matched *[]string) {
	if index == len(levels) {
		// '#' also matches its parent level.
		*matched = append(*matched, n.names...)
		if wild, ok := n.children[topics.MultiLevel]; ok {
			*matched = append(*matched, wild.names...)
		}
		return
	}

	if child, ok := n.children[levels[index]]; ok {
		matchLevel(child, levels, index+1, matched)
	}
	if child, ok := n.children[topics.SingleLevel]; ok {
		matchLevel(child, levels, index+1, matched)
	}
	if child, ok := n.children[topics.MultiLevel]; ok {
		*matched = append(*matched, child.names...)
	}
}
