package imapnio

import (
	"bytes"
	"crypto/tls"
	"io"
	"net"

	"github.com/pkg/errors"
)

// Well-known stage names.
const (
	StageTLS     = "tls"
	StageDeflate = "deflate"
)

// Stage is one byte transform between the network connection and the frame
// decoder. Stages are ordered from the network towards the application.
type Stage interface {
	Name() string
	// WrapReader returns a reader producing this stage's output from r.
	WrapReader(r io.Reader) (io.Reader, error)
	// WrapWriter returns a writer that transforms data before handing it to w.
	// If it implements Flush() error, the session flushes it after every write.
	WrapWriter(w io.Writer) (io.Writer, error)
}

type flusher interface {
	Flush() error
}

// tlsStage marks encryption already applied by the connection itself.
type tlsStage struct{}

func (tlsStage) Name() string                              { return StageTLS }
func (tlsStage) WrapReader(r io.Reader) (io.Reader, error) { return r, nil }
func (tlsStage) WrapWriter(w io.Writer) (io.Writer, error) { return w, nil }

type layer struct {
	stage Stage
	r     io.Reader
	w     io.Writer
}

// pipeline is the explicit, ordered list of transforms in front of a
// connection. It is only touched by the session's dispatch loop, and by the
// reader goroutine while the dispatch loop waits for it.
type pipeline struct {
	conn   net.Conn
	layers []layer
}

func newPipeline(conn net.Conn) *pipeline {
	p := &pipeline{conn: conn}
	if _, ok := conn.(*tls.Conn); ok {
		p.layers = append(p.layers, layer{stage: tlsStage{}, r: conn, w: conn})
	}
	return p
}

func (p *pipeline) reader() io.Reader {
	if len(p.layers) == 0 {
		return p.conn
	}
	return p.layers[len(p.layers)-1].r
}

func (p *pipeline) writer() io.Writer {
	if len(p.layers) == 0 {
		return p.conn
	}
	return p.layers[len(p.layers)-1].w
}

func (p *pipeline) index(name string) int {
	for i, l := range p.layers {
		if l.stage.Name() == name {
			return i
		}
	}
	return -1
}

func (p *pipeline) has(name string) bool {
	return p.index(name) >= 0
}

// names returns the stage names from the network towards the application.
func (p *pipeline) names() []string {
	names := make([]string, 0, len(p.layers))
	for _, l := range p.layers {
		names = append(names, l.stage.Name())
	}
	return names
}

// insert places s right after the TLS stage, or first when there is none.
// pending holds bytes that were read through the old chain but not decoded;
// they become the first input of s. Stages above the insertion point are
// wrapped again over the new stage.
func (p *pipeline) insert(s Stage, pending []byte) error {
	if p.has(s.Name()) {
		return errors.Errorf("stage %q already active", s.Name())
	}

	pos := 0
	if i := p.index(StageTLS); i >= 0 {
		pos = i + 1
	}

	var below io.Reader = p.conn
	var belowW io.Writer = p.conn
	if pos > 0 {
		below, belowW = p.layers[pos-1].r, p.layers[pos-1].w
	}
	if len(pending) > 0 {
		below = io.MultiReader(bytes.NewReader(pending), below)
	}

	layers := make([]layer, 0, len(p.layers)+1)
	layers = append(layers, p.layers[:pos]...)

	next, err := wrap(s, below, belowW)
	if err != nil {
		return err
	}
	layers = append(layers, next)

	for _, l := range p.layers[pos:] {
		rewrapped, err := wrap(l.stage, next.r, next.w)
		if err != nil {
			return err
		}
		layers = append(layers, rewrapped)
		next = rewrapped
	}

	p.layers = layers
	return nil
}

func wrap(s Stage, r io.Reader, w io.Writer) (layer, error) {
	nr, err := s.WrapReader(r)
	if err != nil {
		return layer{}, errors.Wrapf(err, "wrap %s reader", s.Name())
	}
	nw, err := s.WrapWriter(w)
	if err != nil {
		return layer{}, errors.Wrapf(err, "wrap %s writer", s.Name())
	}
	return layer{stage: s, r: nr, w: nw}, nil
}

// write sends b through every stage and flushes them from the application
// side down to the network.
func (p *pipeline) write(b []byte) error {
	if _, err := p.writer().Write(b); err != nil {
		return err
	}
	for i := len(p.layers) - 1; i >= 0; i-- {
		if f, ok := p.layers[i].w.(flusher); ok {
			if err := f.Flush(); err != nil {
				return errors.Wrapf(err, "flush %s", p.layers[i].stage.Name())
			}
		}
	}
	return nil
}

// close finishes every stage writer that needs it, then closes the
// connection. Stage errors are ignored when the connection is already broken.
func (p *pipeline) close() error {
	for i := len(p.layers) - 1; i >= 0; i-- {
		if p.layers[i].stage.Name() == StageTLS {
			continue
		}
		if c, ok := p.layers[i].w.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return p.conn.Close()
}
