// Package id provides ID generation helpers used across services.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixSession  = "sess"
	PrefixJob      = "job"
	PrefixRequest  = "req"
	PrefixEvent    = "evt"
	PrefixDispatch = "dsp"
)

func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewWithLength(prefix string, length int) string {
	id, err := nanoid.New(length)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewSession() string  { return New(PrefixSession) }
func NewJob() string      { return New(PrefixJob) }
func NewRequest() string  { return New(PrefixRequest) }
func NewEvent() string    { return New(PrefixEvent) }
func NewDispatch() string { return New(PrefixDispatch) }

// Suffix returns a short random suffix for participant identities.
func Suffix(length int) string {
	id, err := nanoid.New(length)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return id
}
