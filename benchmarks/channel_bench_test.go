package benchmarks

import (
	"context"
	"testing"

	"github.com/kbirk/peerchan/pkg/async"
	"github.com/kbirk/peerchan/pkg/channel"
	"github.com/kbirk/peerchan/pkg/resource"
	"github.com/kbirk/peerchan/pkg/transport"
)

func echo(ctx *channel.IncomingRequestContext, next channel.Next) error {
	return ctx.SetResult(ctx.Request.Payload)
}

func newPair(b *testing.B, conf channel.Config, codec transport.Codec, build channel.BuildFunc) (*channel.Channel, *channel.Channel) {
	b.Helper()

	ta, tb := transport.NewPipe(transport.PipeConfig{Codec: codec})

	remoteConf := conf
	remoteConf.Transport = tb
	remote, err := channel.New(remoteConf, func(ch *channel.Channel, bl *channel.Builder) {
		if build != nil {
			build(ch, bl)
		}
		bl.UseIncomingRequest(channel.IncomingRequestFunc(echo))
	})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		remote.Dispose()
	})

	localConf := conf
	localConf.Transport = ta
	local, err := channel.New(localConf, build)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		local.Dispose()
	})

	return local, remote
}

// BenchmarkRequestRoundTrip benchmarks a request and its response over an
// in-process pipe
func BenchmarkRequestRoundTrip(b *testing.B) {
	codecs := map[string]transport.Codec{
		"Shared": nil,
		"Wire":   transport.NewWireCodec(),
	}

	for name, codec := range codecs {
		b.Run(name, func(b *testing.B) {
			local, _ := newPair(b, channel.Config{}, codec, nil)
			ctx := context.Background()
			msg := payload()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := local.SendRequest(ctx, msg); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkConcurrentRequests benchmarks many callers sharing one channel
func BenchmarkConcurrentRequests(b *testing.B) {
	local, _ := newPair(b, channel.Config{}, nil, nil)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := local.SendRequest(ctx, "ping"); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// BenchmarkEvents benchmarks posting events
func BenchmarkEvents(b *testing.B) {
	local, _ := newPair(b, channel.Config{}, nil, nil)
	msg := payload()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := local.SendEvent(msg); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRemoteDeferred benchmarks wrapping a settled deferred and awaiting
// it from the remote peer
func BenchmarkRemoteDeferred(b *testing.B) {
	managers := make(map[*channel.Channel]*resource.Manager)
	build := func(ch *channel.Channel, bl *channel.Builder) {
		m := resource.NewManager(ch)
		managers[ch] = m
		bl.Use(m)
	}
	local, remote := newPair(b, channel.Config{}, nil, build)
	owner := managers[local]
	listener := managers[remote]
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id, err := owner.WrapDeferred(ctx, async.Resolved(i))
		if err != nil {
			b.Fatal(err)
		}
		d := listener.GetListeningDeferred(id)
		if d == nil {
			b.Fatalf("no listener for %d", id)
		}
		if _, err := d.Wait(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
