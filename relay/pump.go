package relay

import (
	"io"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"mcpintercept/transport"
)

// PumpError reports which pump failed and whether reading or writing did.
type PumpError struct {
	Pump string
	Op   string
	Err  error
}

func (e *PumpError) Error() string {
	return e.Pump + ": " + e.Op + " failed: " + e.Err.Error()
}

func (e *PumpError) Unwrap() error {
	return e.Err
}

// Pump moves messages from one endpoint to another, one write per read,
// in order and without looking at the payload.
type Pump struct {
	name   string
	source transport.Source
	sink   transport.Sink

	messages int64
	bytes    int64
}

func NewPump(name string, source transport.Source, sink transport.Sink) *Pump {
	return &Pump{
		name:   name,
		source: source,
		sink:   sink,
	}
}

func (p *Pump) Name() string {
	return p.name
}

// Messages returns the number of messages written so far.
func (p *Pump) Messages() int64 {
	return atomic.LoadInt64(&p.messages)
}

// Bytes returns the number of payload bytes written so far.
func (p *Pump) Bytes() int64 {
	return atomic.LoadInt64(&p.bytes)
}

// Run relays until the source ends or an endpoint fails. End of stream is
// passed on to the sink with CloseWrite and Run returns nil. Any other
// failure is returned as a *PumpError without retrying; the caller decides
// what it means for the session.
func (p *Pump) Run() error {
	logger := log.With().Str("pump", p.name).Logger()

	for {
		message, err := p.source.ReadMessage()
		if err == io.EOF {
			logger.Debug().Int64("messages", p.Messages()).Int64("bytes", p.Bytes()).Msg("source ended")
			if err := p.sink.CloseWrite(); err != nil {
				return &PumpError{Pump: p.name, Op: "close", Err: err}
			}
			return nil
		}
		if err != nil {
			return &PumpError{Pump: p.name, Op: "read", Err: err}
		}

		if err := p.sink.WriteMessage(message); err != nil {
			logger.Debug().Int("size", len(message)).Msg("dropping message, sink failed")
			return &PumpError{Pump: p.name, Op: "write", Err: err}
		}

		atomic.AddInt64(&p.messages, 1)
		atomic.AddInt64(&p.bytes, int64(len(message)))
		logger.Debug().Int("size", len(message)).Msg("message relayed")
	}
}
