package token

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Record is the provider token set held for a user. There is exactly one record per user.
type Record struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	Scopes       []string
}

// NewRecord builds a Record from a token endpoint response. Google reports the
// scopes it actually granted in the "scope" field; when absent the requested
// scopes are assumed.
func NewRecord(userID string, t *oauth2.Token, requested []string) *Record {
	scopes := requested
	if granted, ok := t.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(granted)
	}
	return &Record{
		UserID:       userID,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresAt:    t.Expiry,
		Scopes:       append([]string(nil), scopes...),
	}
}

// OAuth2Token converts the record back into a token usable by an oauth2 client.
func (r *Record) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Expiry:       r.ExpiresAt,
	}
}
