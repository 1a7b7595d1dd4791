// Package clipboard defines the clipboard content model shared by the sync
// pipeline and the platform clipboard collaborator.
//
// The package encodes content into the type-specific body bytes that travel
// inside the envelope: raw UTF-8 for text, raw PNG bytes for images, and a
// length-prefixed name followed by the file bytes for files.
package clipboard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ContentType identifies the kind of clipboard content. Values match the
// frame type byte on the wire.
type ContentType uint8

const (
	// TypeText is raw UTF-8 text.
	TypeText ContentType = iota + 1
	// TypeImage is a PNG-encoded image.
	TypeImage
	// TypeFile is a named file.
	TypeFile
)

// MaxFileNameLength bounds the transmitted file name. The value matches
// typical filesystem limits and fits the 16-bit length prefix.
const MaxFileNameLength = 255

// fileNamePrefixSize is the big-endian name length prefix of file content.
const fileNamePrefixSize = 2

// ErrInvalidContent indicates content bytes that do not decode as the
// declared type.
var ErrInvalidContent = errors.New("clipboard: invalid content")

// ErrFileNameTooLong indicates a file name above MaxFileNameLength bytes.
var ErrFileNameTooLong = errors.New("clipboard: file name too long")

// ErrUnknownType indicates an unrecognized content type byte.
var ErrUnknownType = errors.New("clipboard: unknown content type")

// Content is one clipboard item. Exactly the fields for its Type are
// meaningful.
type Content struct {
	Type     ContentType
	Text     string
	Image    []byte
	FileName string
	FileData []byte
}

// NewText creates text content.
func NewText(text string) *Content {
	return &Content{Type: TypeText, Text: text}
}

// NewImage creates image content from PNG-encoded bytes.
func NewImage(png []byte) *Content {
	return &Content{Type: TypeImage, Image: png}
}

// NewFile creates file content.
func NewFile(name string, data []byte) *Content {
	return &Content{Type: TypeFile, FileName: name, FileData: data}
}

// MarshalBody encodes the content into its wire body, excluding the sender
// identity prefix applied by the pipeline.
func (c *Content) MarshalBody() ([]byte, error) {
	switch c.Type {
	case TypeText:
		return []byte(c.Text), nil

	case TypeImage:
		return c.Image, nil

	case TypeFile:
		name := []byte(c.FileName)
		if len(name) > MaxFileNameLength {
			return nil, fmt.Errorf("%w: %d bytes", ErrFileNameTooLong, len(name))
		}
		body := make([]byte, fileNamePrefixSize+len(name)+len(c.FileData))
		binary.BigEndian.PutUint16(body[:fileNamePrefixSize], uint16(len(name)))
		copy(body[fileNamePrefixSize:], name)
		copy(body[fileNamePrefixSize+len(name):], c.FileData)
		return body, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, c.Type)
	}
}

// UnmarshalBody decodes wire body bytes (sender identity already stripped)
// into Content of the given type.
func UnmarshalBody(contentType ContentType, body []byte) (*Content, error) {
	switch contentType {
	case TypeText:
		if !utf8.Valid(body) {
			return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidContent)
		}
		return NewText(string(body)), nil

	case TypeImage:
		img := make([]byte, len(body))
		copy(img, body)
		return NewImage(img), nil

	case TypeFile:
		if len(body) < fileNamePrefixSize {
			return nil, fmt.Errorf("%w: file body shorter than name prefix", ErrInvalidContent)
		}
		nameLen := int(binary.BigEndian.Uint16(body[:fileNamePrefixSize]))
		if nameLen > MaxFileNameLength {
			return nil, fmt.Errorf("%w: declared name length %d", ErrFileNameTooLong, nameLen)
		}
		if len(body)-fileNamePrefixSize < nameLen {
			return nil, fmt.Errorf("%w: file body shorter than declared name", ErrInvalidContent)
		}
		name := body[fileNamePrefixSize : fileNamePrefixSize+nameLen]
		if !utf8.Valid(name) {
			return nil, fmt.Errorf("%w: file name is not valid UTF-8", ErrInvalidContent)
		}
		data := make([]byte, len(body)-fileNamePrefixSize-nameLen)
		copy(data, body[fileNamePrefixSize+nameLen:])
		return NewFile(string(name), data), nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, contentType)
	}
}

// Provider is the platform clipboard collaborator.
type Provider interface {
	// ReadCurrent returns the current clipboard content, or nil if the
	// clipboard is empty or holds an unsupported format.
	ReadCurrent() (*Content, error)
	// Write places decoded peer content on the local clipboard.
	Write(content *Content) error
}
