package wire

import "fmt"

// Color is an RGBA32 display color.
type Color struct {
	R, G, B, A byte
}

func (c Color) encode() []byte { return []byte{c.R, c.G, c.B, c.A} }

func decodeColor(b []byte) (Color, error) {
	if len(b) != 4 {
		return Color{}, fmt.Errorf("wire: color must be 4 bytes, got %d", len(b))
	}
	return Color{R: b[0], G: b[1], B: b[2], A: b[3]}, nil
}

// ConnectionChallengeBody carries the server's liveness-proof nonce.
type ConnectionChallengeBody struct {
	Nonce uint64
}

func (b ConnectionChallengeBody) Encode() []byte {
	c := NewWriter()
	c.WriteUint64(b.Nonce)
	return c.Bytes()
}

func DecodeConnectionChallengeBody(body []byte) (ConnectionChallengeBody, error) {
	c := NewReader(body)
	nonce, err := c.ReadUint64()
	if err != nil {
		return ConnectionChallengeBody{}, err
	}
	return ConnectionChallengeBody{Nonce: nonce}, nil
}

// ChallengeAnswerBody carries the client's identity and its proof of
// having observed the nonce.
type ChallengeAnswerBody struct {
	Username string
	Color    Color
	Hash     [32]byte
}

func (b ChallengeAnswerBody) Encode() []byte {
	c := NewWriter()
	c.WriteLenPrefixed([]byte(b.Username))
	c.WriteBytes(b.Color.encode())
	c.WriteBytes(b.Hash[:])
	return c.Bytes()
}

func DecodeChallengeAnswerBody(body []byte) (ChallengeAnswerBody, error) {
	c := NewReader(body)
	name, err := c.ReadLenPrefixed()
	if err != nil {
		return ChallengeAnswerBody{}, err
	}
	colorBytes, err := c.ReadBytes(4)
	if err != nil {
		return ChallengeAnswerBody{}, err
	}
	color, err := decodeColor(colorBytes)
	if err != nil {
		return ChallengeAnswerBody{}, err
	}
	hashBytes, err := c.ReadBytes(32)
	if err != nil {
		return ChallengeAnswerBody{}, err
	}
	var hash [32]byte
	copy(hash[:], hashBytes)
	return ChallengeAnswerBody{Username: string(name), Color: color, Hash: hash}, nil
}

// ConnectionAcceptedBody carries the peer ID the server assigned.
type ConnectionAcceptedBody struct {
	PeerID byte
}

func (b ConnectionAcceptedBody) Encode() []byte { return []byte{b.PeerID} }

func DecodeConnectionAcceptedBody(body []byte) (ConnectionAcceptedBody, error) {
	if len(body) < 1 {
		return ConnectionAcceptedBody{}, fmt.Errorf("wire: ConnectionAccepted body too short")
	}
	return ConnectionAcceptedBody{PeerID: body[0]}, nil
}

// ConnectionDeniedBody carries the reason the request was refused.
type ConnectionDeniedBody struct {
	Reason ClosedReason
}

func (b ConnectionDeniedBody) Encode() []byte { return []byte{byte(b.Reason)} }

func DecodeConnectionDeniedBody(body []byte) (ConnectionDeniedBody, error) {
	if len(body) < 1 {
		return ConnectionDeniedBody{Reason: ReasonGraceful}, nil
	}
	return ConnectionDeniedBody{Reason: ClosedReason(body[0])}, nil
}

// ConnectionClosedBody / ClientDisconnectedBody carry an optional reason
// byte. Readers tolerate a missing byte from older peers.
type ConnectionClosedBody struct {
	Reason ClosedReason
}

func (b ConnectionClosedBody) Encode() []byte { return []byte{byte(b.Reason)} }

func DecodeConnectionClosedBody(body []byte) (ConnectionClosedBody, error) {
	if len(body) < 1 {
		return ConnectionClosedBody{Reason: ReasonGraceful}, nil
	}
	return ConnectionClosedBody{Reason: ClosedReason(body[0])}, nil
}

type ClientDisconnectedBody struct {
	PeerID byte
	Reason ClosedReason
}

func (b ClientDisconnectedBody) Encode() []byte { return []byte{b.PeerID, byte(b.Reason)} }

func DecodeClientDisconnectedBody(body []byte) (ClientDisconnectedBody, error) {
	if len(body) < 1 {
		return ClientDisconnectedBody{}, fmt.Errorf("wire: ClientDisconnected body too short")
	}
	reason := ReasonGraceful
	if len(body) >= 2 {
		reason = ClosedReason(body[1])
	}
	return ClientDisconnectedBody{PeerID: body[0], Reason: reason}, nil
}

// ServerInformationBody is the periodic LAN discovery beacon.
type ServerInformationBody struct {
	ServerName   string
	MaxClients   byte
	CurrentCount byte
}

func (b ServerInformationBody) Encode() []byte {
	c := NewWriter()
	c.WriteLenPrefixed([]byte(b.ServerName))
	c.WriteByte(b.MaxClients)
	c.WriteByte(b.CurrentCount)
	return c.Bytes()
}

func DecodeServerInformationBody(body []byte) (ServerInformationBody, error) {
	c := NewReader(body)
	name, err := c.ReadLenPrefixed()
	if err != nil {
		return ServerInformationBody{}, err
	}
	maxClients, err := c.ReadByte()
	if err != nil {
		return ServerInformationBody{}, err
	}
	current, err := c.ReadByte()
	if err != nil {
		return ServerInformationBody{}, err
	}
	return ServerInformationBody{ServerName: string(name), MaxClients: maxClients, CurrentCount: current}, nil
}

// ClientInfoBody fans out a peer's identity to other peers.
type ClientInfoBody struct {
	PeerID   byte
	Username string
	Color    Color
}

func (b ClientInfoBody) Encode() []byte {
	c := NewWriter()
	c.WriteByte(b.PeerID)
	c.WriteLenPrefixed([]byte(b.Username))
	c.WriteBytes(b.Color.encode())
	return c.Bytes()
}

func DecodeClientInfoBody(body []byte) (ClientInfoBody, error) {
	c := NewReader(body)
	peerID, err := c.ReadByte()
	if err != nil {
		return ClientInfoBody{}, err
	}
	name, err := c.ReadLenPrefixed()
	if err != nil {
		return ClientInfoBody{}, err
	}
	colorBytes, err := c.ReadBytes(4)
	if err != nil {
		return ClientInfoBody{}, err
	}
	color, err := decodeColor(colorBytes)
	if err != nil {
		return ClientInfoBody{}, err
	}
	return ClientInfoBody{PeerID: peerID, Username: string(name), Color: color}, nil
}

// EncodeClientInfoFrame wraps a ClientInfoBody with the sequence number
// it needs to ride the reliable-ordered channel: unlike the four data
// kinds, ClientInfo has no sender/destination/module_id header of its
// own, just a sequence prefix.
func EncodeClientInfoFrame(seq uint16, body ClientInfoBody) []byte {
	c := NewWriter()
	c.WriteUint16(seq)
	c.WriteBytes(body.Encode())
	return c.Bytes()
}

// DecodeClientInfoFrame splits a ClientInfo frame body back into its
// sequence number and ClientInfoBody.
func DecodeClientInfoFrame(raw []byte) (seq uint16, body ClientInfoBody, err error) {
	c := NewReader(raw)
	seq, err = c.ReadUint16()
	if err != nil {
		return 0, ClientInfoBody{}, err
	}
	rest, err := c.ReadBytes(c.Remaining())
	if err != nil {
		return 0, ClientInfoBody{}, err
	}
	body, err = DecodeClientInfoBody(rest)
	return seq, body, err
}

// ACKBody acknowledges a sequence, and a slice index when it acknowledges
// one slice of a chunked message.
type ACKBody struct {
	Sequence uint16
	HasSlice bool
	SliceIdx uint16
}

func (b ACKBody) Encode() []byte {
	c := NewWriter()
	c.WriteUint16(b.Sequence)
	if b.HasSlice {
		c.WriteByte(1)
		c.WriteUint16(b.SliceIdx)
	} else {
		c.WriteByte(0)
	}
	return c.Bytes()
}

func DecodeACKBody(body []byte) (ACKBody, error) {
	c := NewReader(body)
	seq, err := c.ReadUint16()
	if err != nil {
		return ACKBody{}, err
	}
	flag, err := c.ReadByte()
	if err != nil {
		return ACKBody{}, err
	}
	if flag == 0 {
		return ACKBody{Sequence: seq}, nil
	}
	idx, err := c.ReadUint16()
	if err != nil {
		return ACKBody{}, err
	}
	return ACKBody{Sequence: seq, HasSlice: true, SliceIdx: idx}, nil
}

// DataBody is the body shared by all four data-delivery disciplines, plus
// the optional chunk-slice metadata.
type DataBody struct {
	Sequence   uint16
	Chunked    bool
	SliceIndex uint16
	SliceCount uint16
	SenderID   byte
	DestID     byte
	ModuleID   []byte
	Payload    []byte
}

func (b DataBody) Encode() []byte {
	c := NewWriter()
	c.WriteUint16(b.Sequence)
	if b.Chunked {
		c.WriteUint16(b.SliceIndex)
		c.WriteUint16(b.SliceCount)
	}
	c.WriteByte(b.SenderID)
	c.WriteByte(b.DestID)
	c.WriteLenPrefixed(b.ModuleID)
	c.WriteLenPrefixed16(b.Payload)
	return c.Bytes()
}

func DecodeDataBody(body []byte, chunked bool) (DataBody, error) {
	c := NewReader(body)
	seq, err := c.ReadUint16()
	if err != nil {
		return DataBody{}, err
	}
	b := DataBody{Sequence: seq, Chunked: chunked}
	if chunked {
		if b.SliceIndex, err = c.ReadUint16(); err != nil {
			return DataBody{}, err
		}
		if b.SliceCount, err = c.ReadUint16(); err != nil {
			return DataBody{}, err
		}
	}
	if b.SenderID, err = c.ReadByte(); err != nil {
		return DataBody{}, err
	}
	if b.DestID, err = c.ReadByte(); err != nil {
		return DataBody{}, err
	}
	if b.ModuleID, err = c.ReadLenPrefixed(); err != nil {
		return DataBody{}, err
	}
	if b.Payload, err = c.ReadLenPrefixed16(); err != nil {
		return DataBody{}, err
	}
	return b, nil
}
