// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"time"
)

// Signal is one half of an SDP exchange: an offer or an answer
// published by a named peer.
type Signal struct {
	// Peer is the name of the peer that published the signal.
	Peer string

	// SDP is the session description.
	SDP string

	// SentAt records when the signal was published.
	SentAt time.Time
}

// Signaler exchanges SDP offers and answers between named peers so
// that two sides can establish a data channel without a direct
// connection. Implementations decide transport and durability; the
// in-memory implementation serves tests and single-process setups.
//
// Delivery is one-shot: a signal returned by Offers or Answers is
// consumed and will not be returned again.
type Signaler interface {
	// PublishOffer makes an SDP offer from peer `from` available to
	// peer `to`.
	PublishOffer(ctx context.Context, from, to, sdp string) error

	// Offers returns the pending offers addressed to peer `to`,
	// oldest first.
	Offers(ctx context.Context, to string) ([]Signal, error)

	// PublishAnswer makes an SDP answer from peer `from` available to
	// the peer whose offer it responds to.
	PublishAnswer(ctx context.Context, from, offerer, sdp string) error

	// Answers returns the pending answers addressed to peer
	// `offerer`, oldest first.
	Answers(ctx context.Context, offerer string) ([]Signal, error)
}
