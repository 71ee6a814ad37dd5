/*
Package protocol implements the kvsd wire protocol.

A message is an ordered sequence of frames. The first frame holds the message type,
the remaining frames are byte payloads or nulls whose meaning depends on the type:

	Ping          client timestamp | null, server timestamp | null
	Authenticate  username, password
	Success       value | null
	Fail          code, message
	Set           namespace | null, table | null, key, value
	Get           namespace | null, table | null, key
	Delete        namespace | null, table | null, key

Messages are built with Frames (NewFrames, PushBytes, PushNull) and read with a
Parse cursor (MessageType, NextBytesOrNull, ExpectConsumed). A message with more
frames than its type requires is rejected with a *FramingError, an unknown type
byte with an *UnknownMessageTypeError. Both match ErrProtocol.

On the connection every message is wrapped in an envelope holding the body length
(see ReadMessage and WriteMessage).
*/
package protocol
