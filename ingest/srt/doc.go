// Package srt pulls MPEG-TS over SRT (Secure Reliable Transport) so that
// srt:// sources can be fed to the decoder through its stdin. Both
// caller-mode (dial a remote listener) and listener-mode (wait for one
// publisher) are supported.
package srt
