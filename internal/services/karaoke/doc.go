// Package karaoke implements the session relay for shared karaoke rooms.
//
// A host screen owns each session and plays songs; phones join by a short
// numeric code to queue songs, steer playback and stream scores back to the
// host. Session state lives in memory for as long as the host is connected.
package karaoke
