// Package msg
// Author: momentics <momentics@gmail.com>
//
// Frames and multipart messages for hioload-mq.
//
// A Message exclusively owns its Frames: adding a frame that belongs to
// another message moves it, and sending a message through a socket moves
// every frame to the transport, leaving the message empty. Encode and Decode
// flatten a message into a single self-describing buffer and back; they are
// exact inverses.
package msg
