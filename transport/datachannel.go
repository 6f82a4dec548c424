// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/datachannel"
	"github.com/pion/webrtc/v4"

	"github.com/lightbox-foundation/lightbox/lib/clock"
)

const (
	defaultPollInterval  = 200 * time.Millisecond
	defaultAnswerTimeout = 30 * time.Second

	// dataChannelLabel names the single channel carrying all traffic.
	dataChannelLabel = "lightbox"

	// dataChannelMessageLimit sizes the read buffer. SCTP negotiates a
	// 64 KiB maximum message size, so a matching buffer always fits a
	// whole message.
	dataChannelMessageLimit = 1 << 16
)

// Compile-time interface checks.
var (
	_ Dialer = (*DataChannelDialer)(nil)
	_ Conn   = (*dataChannelConn)(nil)
)

// DataChannelDialer establishes a WebRTC data channel to a named peer,
// exchanging SDP through a Signaler. The target passed to Dial is the
// remote peer's name as known to the signaler.
type DataChannelDialer struct {
	// Signaler carries the SDP exchange. Required.
	Signaler Signaler

	// LocalName identifies this side to the signaler. Required.
	LocalName string

	// ICEServers lists STUN/TURN URLs. Empty means host candidates
	// only, which suffices on one machine or a flat network.
	ICEServers []string

	// PollInterval is how often to check the signaler for an answer.
	// Default 200ms.
	PollInterval time.Duration

	// AnswerTimeout bounds the wait for the remote answer and for the
	// channel to open. Default 30s.
	AnswerTimeout time.Duration

	// Clock drives polling and timeouts. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives negotiation diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Dial offers a data channel to the named peer and waits for it to
// open.
func (d *DataChannelDialer) Dial(ctx context.Context, target string) (Conn, error) {
	if d.Signaler == nil {
		return nil, fmt.Errorf("transport: data channel dialer has no signaler")
	}
	pollInterval := d.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	answerTimeout := d.AnswerTimeout
	if answerTimeout <= 0 {
		answerTimeout = defaultAnswerTimeout
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	peerConnection, err := newPeerConnection(d.ICEServers)
	if err != nil {
		return nil, err
	}

	opened := make(chan datachannel.ReadWriteCloser, 1)
	openFailed := make(chan error, 1)

	ordered := true
	channel, err := peerConnection.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		peerConnection.Close()
		return nil, fmt.Errorf("transport: create data channel: %w", err)
	}
	channel.OnOpen(func() {
		raw, detachErr := channel.Detach()
		if detachErr != nil {
			openFailed <- fmt.Errorf("transport: detach data channel: %w", detachErr)
			return
		}
		opened <- raw
	})

	offer, err := peerConnection.CreateOffer(nil)
	if err != nil {
		peerConnection.Close()
		return nil, fmt.Errorf("transport: create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(peerConnection)
	if err := peerConnection.SetLocalDescription(offer); err != nil {
		peerConnection.Close()
		return nil, fmt.Errorf("transport: set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		peerConnection.Close()
		return nil, ctx.Err()
	}

	if err := d.Signaler.PublishOffer(ctx, d.LocalName, target, peerConnection.LocalDescription().SDP); err != nil {
		peerConnection.Close()
		return nil, fmt.Errorf("transport: publish offer to %q: %w", target, err)
	}
	logger.Debug("published data channel offer", "local", d.LocalName, "target", target)

	answer, err := d.awaitAnswer(ctx, clk, pollInterval, answerTimeout, target)
	if err != nil {
		peerConnection.Close()
		return nil, err
	}
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}
	if err := peerConnection.SetRemoteDescription(remote); err != nil {
		peerConnection.Close()
		return nil, fmt.Errorf("transport: set remote description: %w", err)
	}

	select {
	case raw := <-opened:
		logger.Debug("data channel open", "local", d.LocalName, "target", target)
		return newDataChannelConn(raw, peerConnection), nil
	case err := <-openFailed:
		peerConnection.Close()
		return nil, err
	case <-clk.After(answerTimeout):
		peerConnection.Close()
		return nil, fmt.Errorf("transport: data channel to %q did not open within %v", target, answerTimeout)
	case <-ctx.Done():
		peerConnection.Close()
		return nil, ctx.Err()
	}
}

func (d *DataChannelDialer) awaitAnswer(ctx context.Context, clk clock.Clock, pollInterval, answerTimeout time.Duration, target string) (Signal, error) {
	ticker := clk.NewTicker(pollInterval)
	defer ticker.Stop()
	deadline := clk.After(answerTimeout)

	for {
		answers, err := d.Signaler.Answers(ctx, d.LocalName)
		if err != nil {
			return Signal{}, fmt.Errorf("transport: poll answers: %w", err)
		}
		for _, answer := range answers {
			if answer.Peer == target {
				return answer, nil
			}
		}

		select {
		case <-ticker.Chan():
		case <-deadline:
			return Signal{}, fmt.Errorf("transport: no answer from %q within %v", target, answerTimeout)
		case <-ctx.Done():
			return Signal{}, ctx.Err()
		}
	}
}

// DataChannelAnswerer accepts one data channel offered by a remote
// peer. It is the rig-side counterpart of DataChannelDialer and serves
// tests and in-process rigs.
type DataChannelAnswerer struct {
	// Signaler carries the SDP exchange. Required.
	Signaler Signaler

	// LocalName identifies this side to the signaler. Required.
	LocalName string

	// ICEServers lists STUN/TURN URLs. Empty means host candidates
	// only.
	ICEServers []string

	// PollInterval is how often to check the signaler for an offer.
	// Default 200ms.
	PollInterval time.Duration

	// Clock drives polling. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives negotiation diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Accept waits for an offer, answers it, and returns the opened
// channel. It accepts exactly one connection per call.
func (a *DataChannelAnswerer) Accept(ctx context.Context) (Conn, error) {
	if a.Signaler == nil {
		return nil, fmt.Errorf("transport: data channel answerer has no signaler")
	}
	pollInterval := a.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	clk := a.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	offer, err := a.awaitOffer(ctx, clk, pollInterval)
	if err != nil {
		return nil, err
	}
	logger.Debug("received data channel offer", "local", a.LocalName, "peer", offer.Peer)

	peerConnection, err := newPeerConnection(a.ICEServers)
	if err != nil {
		return nil, err
	}

	opened := make(chan datachannel.ReadWriteCloser, 1)
	openFailed := make(chan error, 1)
	peerConnection.OnDataChannel(func(channel *webrtc.DataChannel) {
		channel.OnOpen(func() {
			raw, detachErr := channel.Detach()
			if detachErr != nil {
				openFailed <- fmt.Errorf("transport: detach data channel: %w", detachErr)
				return
			}
			opened <- raw
		})
	})

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := peerConnection.SetRemoteDescription(remote); err != nil {
		peerConnection.Close()
		return nil, fmt.Errorf("transport: set remote description: %w", err)
	}
	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		peerConnection.Close()
		return nil, fmt.Errorf("transport: create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(peerConnection)
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		peerConnection.Close()
		return nil, fmt.Errorf("transport: set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		peerConnection.Close()
		return nil, ctx.Err()
	}

	if err := a.Signaler.PublishAnswer(ctx, a.LocalName, offer.Peer, peerConnection.LocalDescription().SDP); err != nil {
		peerConnection.Close()
		return nil, fmt.Errorf("transport: publish answer to %q: %w", offer.Peer, err)
	}

	select {
	case raw := <-opened:
		logger.Debug("data channel open", "local", a.LocalName, "peer", offer.Peer)
		return newDataChannelConn(raw, peerConnection), nil
	case err := <-openFailed:
		peerConnection.Close()
		return nil, err
	case <-ctx.Done():
		peerConnection.Close()
		return nil, ctx.Err()
	}
}

func (a *DataChannelAnswerer) awaitOffer(ctx context.Context, clk clock.Clock, pollInterval time.Duration) (Signal, error) {
	ticker := clk.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		offers, err := a.Signaler.Offers(ctx, a.LocalName)
		if err != nil {
			return Signal{}, fmt.Errorf("transport: poll offers: %w", err)
		}
		if len(offers) > 0 {
			return offers[0], nil
		}

		select {
		case <-ticker.Chan():
		case <-ctx.Done():
			return Signal{}, ctx.Err()
		}
	}
}

// newPeerConnection builds a peer connection with data channels
// detached so they expose a raw read/write interface instead of
// callback delivery, and with loopback candidates enabled so two
// processes on one host can connect without external STUN.
func newPeerConnection(iceServers []string) (*webrtc.PeerConnection, error) {
	settings := webrtc.SettingEngine{}
	settings.DetachDataChannels()
	settings.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))

	var config webrtc.Configuration
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	peerConnection, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("transport: new peer connection: %w", err)
	}
	return peerConnection, nil
}

type dataChannelConn struct {
	raw            datachannel.ReadWriteCloser
	peerConnection *webrtc.PeerConnection

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func newDataChannelConn(raw datachannel.ReadWriteCloser, peerConnection *webrtc.PeerConnection) *dataChannelConn {
	return &dataChannelConn{
		raw:            raw,
		peerConnection: peerConnection,
		closed:         make(chan struct{}),
	}
}

func (c *dataChannelConn) Send(message Message) error {
	var isString bool
	switch message.Type {
	case TextMessage:
		isString = true
	case BinaryMessage:
		isString = false
	default:
		return fmt.Errorf("transport: cannot send message type %v", message.Type)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.raw.WriteDataChannel(message.Data, isString); err != nil {
		return fmt.Errorf("transport: data channel write: %w", err)
	}
	return nil
}

func (c *dataChannelConn) Receive() (Message, error) {
	buffer := make([]byte, dataChannelMessageLimit)
	n, isString, err := c.raw.ReadDataChannel(buffer)
	if err != nil {
		select {
		case <-c.closed:
			return Message{}, net.ErrClosed
		default:
		}
		return Message{}, err
	}

	data := make([]byte, n)
	copy(data, buffer[:n])
	if isString {
		return Message{Type: TextMessage, Data: data}, nil
	}
	return Message{Type: BinaryMessage, Data: data}, nil
}

func (c *dataChannelConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.raw.Close()
		if closeErr := c.peerConnection.Close(); err == nil {
			err = closeErr
		}
	})
	return err
}
