package artifact

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"
)

// A bundle is a NumPy .npz archive: one .npy member per named array, all
// little-endian float64 except the window index.
const (
	npyExt       = ".npy"
	dtypeFloat64 = "<f8"
	dtypeInt64   = "<i8"
)

// ErrBadBundle is wrapped by every decoding failure that is not a shape
// mismatch.
var ErrBadBundle = errors.New("malformed bundle")

type bundleEntry struct {
	name  string
	value any
}

func writeBundle(w io.Writer, entries []bundleEntry) error {
	zw := npz.NewWriter(w)
	for _, e := range entries {
		if err := zw.Write(e.name+npyExt, e.value); err != nil {
			zw.Close()
			return fmt.Errorf("write %s: %w", e.name, err)
		}
	}
	return zw.Close()
}

// bundleReader reads members of an archive after checking their declared
// shape, so a corrupt header never sizes an allocation.
type bundleReader struct {
	zr      *npz.Reader
	members map[string]string
}

func openBundle(r io.ReaderAt, size int64) (*bundleReader, error) {
	zr, err := npz.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBundle, err)
	}
	members := make(map[string]string)
	for _, key := range zr.Keys() {
		name := key
		for strings.HasSuffix(name, npyExt) {
			name = strings.TrimSuffix(name, npyExt)
		}
		members[name] = key
	}
	return &bundleReader{zr: zr, members: members}, nil
}

func (b *bundleReader) expect(name, dtype string, shape ...int) (string, error) {
	member, ok := b.members[name]
	if !ok {
		return "", &ShapeError{Array: name, Reason: "missing"}
	}
	hdr := b.zr.Header(member)
	if hdr.Descr.Type != dtype {
		return "", fmt.Errorf("%w: %s: dtype %q, want %q", ErrBadBundle, name, hdr.Descr.Type, dtype)
	}
	if !equalShape(hdr.Descr.Shape, shape) {
		return "", &ShapeError{Array: name, Reason: fmt.Sprintf("shape %v, want %v", hdr.Descr.Shape, shape)}
	}
	return member, nil
}

func (b *bundleReader) dense(name string, r, c int) (*mat.Dense, error) {
	member, err := b.expect(name, dtypeFloat64, r, c)
	if err != nil {
		return nil, err
	}
	var m mat.Dense
	if err := b.zr.Read(member, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadBundle, name, err)
	}
	if rr, cc := m.Dims(); rr != r || cc != c {
		return nil, &ShapeError{Array: name, Reason: fmt.Sprintf("read %dx%d, want %dx%d", rr, cc, r, c)}
	}
	return &m, nil
}

func (b *bundleReader) vector(name string, n int) ([]float64, error) {
	member, err := b.expect(name, dtypeFloat64, n)
	if err != nil {
		return nil, err
	}
	data := make([]float64, n)
	if err := b.zr.Read(member, &data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadBundle, name, err)
	}
	if len(data) != n {
		return nil, &ShapeError{Array: name, Reason: fmt.Sprintf("read %d values, want %d", len(data), n)}
	}
	return data, nil
}

func (b *bundleReader) index(name string) (int, error) {
	member, err := b.expect(name, dtypeInt64, 1)
	if err != nil {
		return 0, err
	}
	data := make([]int64, 1)
	if err := b.zr.Read(member, &data); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrBadBundle, name, err)
	}
	if len(data) != 1 {
		return 0, &ShapeError{Array: name, Reason: "want one value"}
	}
	return int(data[0]), nil
}

func equalShape(got, want []int) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
