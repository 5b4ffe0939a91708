// AudioBridge drives a real speaker/microphone loop through
// gordonklaus/portaudio as an alternative to the in-process Medium: a
// burst's I-rail samples are played out as a mono audio signal and
// whatever the microphone hears is captured back in, so the simulated
// channel exercises actual acoustic coupling instead of an in-memory
// queue. This is the loopback path's "proper simulated-peer shim" for
// a desk setup with real speakers facing a real microphone, rather
// than two processes on one machine.
package simchannel

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// AudioBridge plays outgoing IQ samples' real component as audio and
// captures incoming audio back into complex64 samples (imaginary part
// always zero, since a single microphone channel carries no quadrature
// information).
type AudioBridge struct {
	stream     *portaudio.Stream
	sampleRate float64

	out chan []complex64
	in  chan []complex64
}

// OpenAudioBridge initializes PortAudio and opens the default
// input/output device pair at sampleRate.
func OpenAudioBridge(sampleRate float64, framesPerBuffer int) (*AudioBridge, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("simchannel: portaudio init: %w", err)
	}

	b := &AudioBridge{
		sampleRate: sampleRate,
		out:        make(chan []complex64, 8),
		in:         make(chan []complex64, 8),
	}

	cb := func(in, out []float32) {
		select {
		case next := <-b.out:
			for i := range out {
				if i < len(next) {
					out[i] = real(next[i])
				} else {
					out[i] = 0
				}
			}
		default:
			for i := range out {
				out[i] = 0
			}
		}

		captured := make([]complex64, len(in))
		for i, s := range in {
			captured[i] = complex(s, 0)
		}
		select {
		case b.in <- captured:
		default:
		}
	}

	stream, err := portaudio.OpenDefaultStream(1, 1, sampleRate, framesPerBuffer, cb)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("simchannel: opening audio stream: %w", err)
	}
	b.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("simchannel: starting audio stream: %w", err)
	}

	return b, nil
}

// Play queues samples for playback on the next callback buffer.
func (b *AudioBridge) Play(samples []complex64) {
	select {
	case b.out <- samples:
	default:
	}
}

// Captured returns the channel of microphone-captured sample buffers.
func (b *AudioBridge) Captured() <-chan []complex64 { return b.in }

// Close stops the audio stream and terminates PortAudio.
func (b *AudioBridge) Close() error {
	if err := b.stream.Stop(); err != nil {
		return err
	}
	if err := b.stream.Close(); err != nil {
		return err
	}
	return portaudio.Terminate()
}

// AudioTransport adapts an AudioBridge into transport.IQTransport, for a
// loopback configuration that exercises real speakers and a real
// microphone instead of the in-process Medium.
type AudioTransport struct {
	bridge *AudioBridge
	start  time.Time

	mu  sync.Mutex
	buf []complex64
}

// NewAudioTransport wraps bridge as an IQTransport.
func NewAudioTransport(bridge *AudioBridge) *AudioTransport {
	return &AudioTransport{bridge: bridge, start: time.Now()}
}

func (t *AudioTransport) Now() float64 { return time.Since(t.start).Seconds() }

func (t *AudioTransport) TxRate() float64            { return t.bridge.sampleRate }
func (t *AudioTransport) RxRate() float64            { return t.bridge.sampleRate }
func (t *AudioTransport) MaxSendSampsPerPacket() int { return 65536 }
func (t *AudioTransport) MaxRecvSampsPerPacket() int { return 4096 }

// RecvAt is a no-op: the audio callback captures continuously regardless
// of whether anyone is listening for a particular slot.
func (t *AudioTransport) RecvAt(float64) error { return nil }

// Recv drains whatever the microphone has captured since the last call.
// It does not wait: if no chunk is buffered and none is ready on the
// bridge's Captured channel, it returns 0 at once.
func (t *AudioTransport) Recv(out []complex64) (int, error) {
	t.mu.Lock()
	if len(t.buf) == 0 {
		t.mu.Unlock()
		select {
		case chunk := <-t.bridge.Captured():
			t.mu.Lock()
			t.buf = chunk
		default:
			return 0, nil
		}
	}
	n := copy(out, t.buf)
	t.buf = t.buf[n:]
	t.mu.Unlock()
	return n, nil
}

func (t *AudioTransport) StartBurst() error { return nil }
func (t *AudioTransport) EndBurst() error   { return nil }

// Send queues buf for playback on the bridge's output stream.
func (t *AudioTransport) Send(_ float64, buf []complex64) error {
	t.bridge.Play(buf)
	return nil
}
