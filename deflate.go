package imapnio

import (
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// deflateStage implements COMPRESS=DEFLATE (RFC 4978): raw deflate in both
// directions, with a sync flush after every client write.
type deflateStage struct {
	level int
}

// DeflateStage returns the compression stage inserted after a successful
// COMPRESS DEFLATE command. level follows flate.NewWriter.
func DeflateStage(level int) Stage {
	return &deflateStage{level: level}
}

func (s *deflateStage) Name() string {
	return StageDeflate
}

func (s *deflateStage) WrapReader(r io.Reader) (io.Reader, error) {
	return flate.NewReader(r), nil
}

func (s *deflateStage) WrapWriter(w io.Writer) (io.Writer, error) {
	fw, err := flate.NewWriter(w, s.level)
	if err != nil {
		return nil, errors.Wrapf(err, "deflate level %d", s.level)
	}
	return fw, nil
}
