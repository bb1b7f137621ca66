// Package persist keeps small device state across power cycles in an extremofile directory.
package persist

import (
	"bytes"
	"encoding"
	"io"
	"path/filepath"
	"sync"

	"github.com/iotartic/sunit/log2"
	"github.com/juju/errors"
	"github.com/temoto/extremofile"
)

type Stater interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type storage interface {
	Read() ([]byte, error)
	io.Writer
}

// Persist binds Stater Load/Store to storage under root/tag.
// Disabled Persist (empty root) keeps state in memory only.
type Persist struct {
	sync.Mutex
	log     *log2.Log
	tag     string
	target  Stater
	storage storage
	// last stored or loaded bytes, Store skips identical writes
	last []byte
}

func (p *Persist) Init(tag string, target Stater, root string, enabled bool, log *log2.Log) error {
	p.tag = tag
	p.log = log
	if !enabled {
		p.log.Debugf("persist %s disabled", p.tag)
		return nil
	}
	if root == "" {
		return errors.NotValidf("persist %s enabled but root=empty", p.tag)
	}
	if target == nil {
		return errors.Errorf("code error persist %s target nil", p.tag)
	}
	p.target = target
	p.storage = extremofile.New(extremofile.Config{
		Dir:      filepath.Join(root, tag),
		DirPerm:  0700,
		FilePerm: 0600,
	})
	return nil
}

func (p *Persist) Enabled() bool { return p.storage != nil }

// Load leaves target untouched when nothing was stored yet.
func (p *Persist) Load() error {
	if p.tag == "" {
		return errors.Errorf("code error persist must call .Init() first")
	}
	if p.storage == nil {
		return nil
	}
	p.Lock()
	defer p.Unlock()
	b, err := p.storage.Read()
	if b == nil {
		return errors.Annotatef(err, "persist %s load", p.tag)
	}
	if err != nil {
		p.log.Errorf("persist %s ignore non-critical storage err=%v", p.tag, err)
	}
	if err = p.target.UnmarshalBinary(b); err != nil {
		return errors.Annotatef(err, "persist %s load", p.tag)
	}
	p.last = b
	p.log.Debugf("persist %s loaded len=%d", p.tag, len(b))
	return nil
}

func (p *Persist) Store() error {
	if p.tag == "" {
		return errors.Errorf("code error persist must call .Init() first")
	}
	if p.storage == nil {
		return nil
	}
	p.Lock()
	defer p.Unlock()
	b, err := p.target.MarshalBinary()
	if err != nil {
		return errors.Annotatef(err, "persist %s store", p.tag)
	}
	if p.last != nil && bytes.Equal(b, p.last) {
		return nil
	}
	if _, err = p.storage.Write(b); err != nil {
		return errors.Annotatef(err, "persist %s store", p.tag)
	}
	p.last = b
	p.log.Debugf("persist %s stored len=%d", p.tag, len(b))
	return nil
}
