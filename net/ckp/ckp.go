// Package ckp implements the probe packet exchanged between a
// synchronization client and a reference time server. The layout is
// compatible with ClockKit, https://github.com/camilleg/clockkit

package ckp

import (
	"errors"
	"time"
)

const (
	ServerPort = 4444

	PacketLen = 26

	TypeInvalid     = 0
	TypeRequest     = 1
	TypeReply       = 2
	TypeAcknowledge = 3
	TypeKillClient  = 4
)

// Packet carries one probe request, reply, or acknowledgment.
// Timestamps are in microseconds since the epoch of the clock that
// produced them; client and server epochs are unrelated.
type Packet struct {
	Type              uint8
	Sequence          uint8
	ClientRequestTime int64
	ServerReplyTime   int64
	ClientReceiveTime int64
}

var (
	errUnexpectedPacketSize = errors.New("unexpected packet size")
	errUnexpectedPacketType = errors.New("unexpected packet type")
)

func UsecFromTime(t time.Time) int64 {
	return t.UnixMicro()
}

func TimeFromUsec(usec int64) time.Time {
	return time.UnixMicro(usec).UTC()
}

func EncodePacket(b *[]byte, pkt *Packet) {
	if cap(*b) < PacketLen {
		*b = make([]byte, PacketLen)
	} else {
		*b = (*b)[:PacketLen]
	}

	buf := *b
	_ = buf[25]
	buf[0] = pkt.Type
	buf[1] = pkt.Sequence
	buf[2] = byte(pkt.ClientRequestTime >> 56)
	buf[3] = byte(pkt.ClientRequestTime >> 48)
	buf[4] = byte(pkt.ClientRequestTime >> 40)
	buf[5] = byte(pkt.ClientRequestTime >> 32)
	buf[6] = byte(pkt.ClientRequestTime >> 24)
	buf[7] = byte(pkt.ClientRequestTime >> 16)
	buf[8] = byte(pkt.ClientRequestTime >> 8)
	buf[9] = byte(pkt.ClientRequestTime)
	buf[10] = byte(pkt.ServerReplyTime >> 56)
	buf[11] = byte(pkt.ServerReplyTime >> 48)
	buf[12] = byte(pkt.ServerReplyTime >> 40)
	buf[13] = byte(pkt.ServerReplyTime >> 32)
	buf[14] = byte(pkt.ServerReplyTime >> 24)
	buf[15] = byte(pkt.ServerReplyTime >> 16)
	buf[16] = byte(pkt.ServerReplyTime >> 8)
	buf[17] = byte(pkt.ServerReplyTime)
	buf[18] = byte(pkt.ClientReceiveTime >> 56)
	buf[19] = byte(pkt.ClientReceiveTime >> 48)
	buf[20] = byte(pkt.ClientReceiveTime >> 40)
	buf[21] = byte(pkt.ClientReceiveTime >> 32)
	buf[22] = byte(pkt.ClientReceiveTime >> 24)
	buf[23] = byte(pkt.ClientReceiveTime >> 16)
	buf[24] = byte(pkt.ClientReceiveTime >> 8)
	buf[25] = byte(pkt.ClientReceiveTime)
}

func DecodePacket(pkt *Packet, b []byte) error {
	if len(b) != PacketLen {
		return errUnexpectedPacketSize
	}

	_ = b[25]
	pkt.Type = b[0]
	pkt.Sequence = b[1]
	pkt.ClientRequestTime = int64(b[2])<<56 | int64(b[3])<<48 | int64(b[4])<<40 | int64(b[5])<<32 |
		int64(b[6])<<24 | int64(b[7])<<16 | int64(b[8])<<8 | int64(b[9])
	pkt.ServerReplyTime = int64(b[10])<<56 | int64(b[11])<<48 | int64(b[12])<<40 | int64(b[13])<<32 |
		int64(b[14])<<24 | int64(b[15])<<16 | int64(b[16])<<8 | int64(b[17])
	pkt.ClientReceiveTime = int64(b[18])<<56 | int64(b[19])<<48 | int64(b[20])<<40 | int64(b[21])<<32 |
		int64(b[22])<<24 | int64(b[23])<<16 | int64(b[24])<<8 | int64(b[25])

	return nil
}

func ValidateRequest(req *Packet) error {
	if req.Type != TypeRequest && req.Type != TypeAcknowledge {
		return errUnexpectedPacketType
	}
	return nil
}

// ValidateReply checks that resp answers the request identified by
// sequence and clientRequestTime.
func ValidateReply(resp *Packet, sequence uint8, clientRequestTime int64) error {
	if resp.Type != TypeReply {
		return errUnexpectedPacketType
	}
	if resp.Sequence != sequence {
		return errUnexpectedPacketType
	}
	if resp.ClientRequestTime != clientRequestTime {
		return errUnexpectedPacketType
	}
	return nil
}
