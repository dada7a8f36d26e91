package sfu

import "errors"

var (
	// ErrAlreadyInChannel is returned by Join when the participant holds a
	// live session in another voice channel. Not retried; the caller must
	// leave first.
	ErrAlreadyInChannel = errors.New("participant already in a voice channel")

	// ErrUnsupportedCodec is returned when a published track's encoding has
	// no exact match in the codec registry. Fatal for the subscription.
	ErrUnsupportedCodec = errors.New("no registered codec capability for track")

	// ErrReceiverNotReady is returned when the publisher's receive handle did
	// not become readable within the subscribe retry window.
	ErrReceiverNotReady = errors.New("track receiver not ready within retry window")

	// ErrTransportDisconnected marks a mid-flight transport failure on either
	// side of a forwarding pipe. Scoped to the affected entity.
	ErrTransportDisconnected = errors.New("media transport disconnected")

	// ErrSessionClosed is returned by operations on a torn-down session.
	ErrSessionClosed = errors.New("session closed")

	// ErrTrackNotFound is returned when a subscribe names an unknown track.
	ErrTrackNotFound = errors.New("published track not found")
)
