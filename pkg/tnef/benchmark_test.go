package tnef

import (
	"bytes"
	"testing"
)

// BenchmarkDecompress benchmarks decoding a mail stream with a large
// attachment, with and without the meeting request properties.
func BenchmarkDecompress(b *testing.B) {
	mail := mailStream()
	mail = append(mail,
		attachAttr(attAttachRenddata, make([]byte, 14)),
		attachAttr(attAttachTitle, str8("big.bin")),
		attachAttr(attAttachData, bytes.Repeat([]byte{0x5a}, 256*1024)),
	)
	for _, tt := range []struct {
		name string
		data []byte
	}{
		{"Mail", stream(mail...)},
		{"Meeting", meetingStream(classMeetingRequest)},
	} {
		b.Run(tt.name, func(b *testing.B) {
			dec := NewDecoder()
			b.SetBytes(int64(len(tt.data)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := dec.Decompress(tt.data); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkParts benchmarks rendering calendar parts from a decoded meeting.
func BenchmarkParts(b *testing.B) {
	res, err := NewDecoder().Decompress(meetingStream(classMeetingRequest))
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := res.Parts(); err != nil {
			b.Fatal(err)
		}
	}
}
