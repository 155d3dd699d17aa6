package ckp

import (
	"go.uber.org/zap/zapcore"
)

type PacketMarshaler struct {
	Pkt *Packet
}

func (m PacketMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint8("type", m.Pkt.Type)
	enc.AddUint8("sequence", m.Pkt.Sequence)
	enc.AddInt64("clientRequestTime", m.Pkt.ClientRequestTime)
	enc.AddInt64("serverReplyTime", m.Pkt.ServerReplyTime)
	enc.AddInt64("clientReceiveTime", m.Pkt.ClientReceiveTime)
	return nil
}
