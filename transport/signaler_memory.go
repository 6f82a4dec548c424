// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
	"time"
)

// MemorySignaler is an in-process Signaler for tests and for wiring
// both ends of a data channel inside one binary.
type MemorySignaler struct {
	mu sync.Mutex
	// offers is keyed by recipient, answers by the original offerer.
	offers  map[string][]Signal
	answers map[string][]Signal
}

var _ Signaler = (*MemorySignaler)(nil)

// NewMemorySignaler returns an empty in-memory signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		offers:  make(map[string][]Signal),
		answers: make(map[string][]Signal),
	}
}

func (s *MemorySignaler) PublishOffer(ctx context.Context, from, to, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[to] = append(s.offers[to], Signal{Peer: from, SDP: sdp, SentAt: time.Now()})
	return nil
}

func (s *MemorySignaler) Offers(ctx context.Context, to string) ([]Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.offers[to]
	delete(s.offers, to)
	return pending, nil
}

func (s *MemorySignaler) PublishAnswer(ctx context.Context, from, offerer, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[offerer] = append(s.answers[offerer], Signal{Peer: from, SDP: sdp, SentAt: time.Now()})
	return nil
}

func (s *MemorySignaler) Answers(ctx context.Context, offerer string) ([]Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.answers[offerer]
	delete(s.answers, offerer)
	return pending, nil
}
