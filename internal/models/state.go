package models

import (
	"golang.org/x/oauth2"
)

// AuthSession is the signed-in identity kept between runs.
type AuthSession struct {
	UserID string
	Email  string
	Token  *oauth2.Token
}

// Snapshot is the persisted active context: who is signed in, what they picked and where they are in the
// question list.
type Snapshot struct {
	User      *User
	Package   *Package
	Voucher   *Voucher
	Session   *Session
	Questions []Question
	Cursor    int
}

// Empty reports whether the snapshot carries no context at all.
func (s Snapshot) Empty() bool {
	return s.User == nil && s.Package == nil && s.Voucher == nil && s.Session == nil && len(s.Questions) == 0
}
