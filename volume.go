// Package govcmount opens a VeraCrypt-compatible encrypted container,
// authenticates a passphrase against its primary header, and exposes the
// plaintext data region as a block-addressable byte stream for an upper
// filesystem layer to drive.
package govcmount

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// UnmountedVolume holds a backing store that has not yet had its header
// authenticated. It has no parsed header and no XTS engine: the mounted
// state is reached, structurally, only by a successful call to Mount.
type UnmountedVolume struct {
	store BackingStore
}

// Open opens the file at path for reading and writing and wraps it as an
// unmounted volume.
func Open(path string) (*UnmountedVolume, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, newMountError(BackingOpenFailure, err)
	}
	return OpenStore(NewFileStore(f)), nil
}

// OpenStore wraps an already-open backing store (file or in-memory) as an
// unmounted volume, for callers that manage the store's lifetime
// themselves or use MemoryStore.
func OpenStore(store BackingStore) *UnmountedVolume {
	return &UnmountedVolume{store: store}
}

// Close releases the backing store, if it supports closing. Only
// meaningful for a volume abandoned before Mount succeeds — Mount consumes
// the unmounted volume and ownership of the store passes to the returned
// MountedVolume.
func (v *UnmountedVolume) Close() error {
	if c, ok := v.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Mount authenticates password against the volume's header and, on
// success, returns a MountedVolume that exclusively owns the backing
// store. The unmounted volume is consumed: v must not be used again after
// a successful call. On failure the caller owns no mountable state and
// should treat v as no longer usable.
//
// The sequence follows §4.F exactly: rewind, read 512 bytes, decode and
// validate the header, seek to the data area, build the data-area XTS
// engine from the recovered master keys, and construct the block device.
func (v *UnmountedVolume) Mount(password string) (*MountedVolume, error) {
	length, err := storeLength(v.store)
	if err != nil {
		err := newMountError(InvalidVolume, err)
		logMountFailure(err)
		return nil, err
	}
	if length < headerSize {
		err := newMountError(InvalidVolume, fmt.Errorf("govcmount: backing store is %d bytes, shorter than the %d-byte header", length, headerSize))
		logMountFailure(err)
		return nil, err
	}

	if _, err := v.store.Seek(0, io.SeekStart); err != nil {
		err := newMountError(InvalidVolume, err)
		logMountFailure(err)
		return nil, err
	}
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(v.store, raw); err != nil {
		err := newMountError(InvalidVolume, fmt.Errorf("%w: %v", ErrShortIO, err))
		logMountFailure(err)
		return nil, err
	}

	header, err := decodeHeader(raw, []byte(password))
	zero(raw)
	if err != nil {
		logMountFailure(err)
		return nil, err
	}

	if header.MasterKeyScopeOffset+header.MasterKeyScopeSize > uint64(length) {
		err := newMountError(InvalidHeader, fmt.Errorf("govcmount: master key scope [%d,%d) exceeds backing store length %d",
			header.MasterKeyScopeOffset, header.MasterKeyScopeOffset+header.MasterKeyScopeSize, length))
		logMountFailure(err)
		return nil, err
	}

	if _, err := v.store.Seek(int64(header.MasterKeyScopeOffset), io.SeekStart); err != nil {
		err := newMountError(InvalidVolume, err)
		logMountFailure(err)
		return nil, err
	}

	dataEngine, err := newXTSEngine(header.MasterKeys[0], header.MasterKeys[1])
	if err != nil {
		err := newMountError(InvalidVolume, err)
		logMountFailure(err)
		return nil, err
	}

	device := newSectorBlockDevice(v.store, header, dataEngine)
	sessionID := uuid.New()
	slog.Info("volume mounted",
		slog.String("session_id", sessionID.String()),
		slog.Uint64("sector_size", uint64(header.SectorSize)),
		slog.Uint64("scope_size", header.MasterKeyScopeSize),
	)
	return &MountedVolume{store: v.store, header: header, device: device, sessionID: sessionID}, nil
}

// logMountFailure logs a failed mount attempt at Warn level with the error
// kind, and never the passphrase or any derived key material.
func logMountFailure(err error) {
	kind := IoFailure
	if me, ok := err.(*MountError); ok {
		kind = me.Kind
	}
	slog.Warn("volume mount failed", slog.String("kind", kind.String()))
}

// MountedVolume is a volume whose header has been authenticated. It
// exclusively owns its backing store for the remainder of its lifetime;
// all reads and writes against the data area go through its block device.
type MountedVolume struct {
	store     BackingStore
	header    *VolumeHeader
	device    *SectorBlockDevice
	sessionID uuid.UUID
}

// Header returns the parsed, validated header this volume was mounted
// with.
func (mv *MountedVolume) Header() *VolumeHeader { return mv.header }

// BlockDevice returns the sector-granular block device the mounted volume
// exposes, for handing to an external filesystem driver.
func (mv *MountedVolume) BlockDevice() *SectorBlockDevice { return mv.device }

// Read, Write, and Seek forward to the block device, so a MountedVolume
// itself satisfies io.ReadWriteSeeker over the plaintext data area.
func (mv *MountedVolume) Read(buf []byte) (int, error)                { return mv.device.Read(buf) }
func (mv *MountedVolume) Write(buf []byte) (int, error)               { return mv.device.Write(buf) }
func (mv *MountedVolume) Seek(offset int64, whence int) (int64, error) { return mv.device.Seek(offset, whence) }

// Flush syncs the backing store, if it supports syncing.
func (mv *MountedVolume) Flush() error { return mv.device.Flush() }

// Close zeroes the recovered master keys and closes the backing store, if
// it supports closing. Callers should not use the volume after Close.
func (mv *MountedVolume) Close() error {
	zero(mv.header.MasterKeys[0][:])
	zero(mv.header.MasterKeys[1][:])
	slog.Info("volume closed", slog.String("session_id", mv.sessionID.String()))
	if c, ok := mv.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewSectorBlockDevice returns the sector-granular block device backing
// mv, in the shape (ReadBlocks/WriteBlocks/EraseSectors/Mode) an external
// FAT driver such as soypat/go-fat expects.
func NewSectorBlockDevice(mv *MountedVolume) *SectorBlockDevice { return mv.device }
