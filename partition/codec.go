package partition

import (
	"encoding/binary"

	apierrors "github.com/nebulastore/metadb/errors"
	"github.com/nebulastore/metadb/proto"
	"github.com/nebulastore/metadb/util"
)

// Record encoding. The formats below are the on-disk contract and must stay
// bit-exact:
//
//	inode key   'I' be64(ino)
//	inode value be64(ino) be32(mode) be32(uid) be32(gid) be64(size) be64(mtime) be64(ctime) be64(nlink)
//	dentry key  'D' be64(parent) '/' name
//	dentry value be64(ino) be32(type)
//	layout key  'L' be64(ino)
//	layout value be64(chunk_size) be32(count) count*(be64(id) be64(offset) be64(size) be32(key_len) key)
//
// All integers are big-endian.
const (
	inodeKeyPrefix  = byte('I')
	dentryKeyPrefix = byte('D')
	layoutKeyPrefix = byte('L')
	dentryKeySep    = byte('/')

	inodeValueSize     = 52
	dentryValueSize    = 12
	dentryKeyMinSize   = 1 + 8 + 1
	layoutHeaderSize   = 8 + 4
	layoutSliceMinSize = 8 + 8 + 8 + 4
)

func encodeInoKey(ino uint64) []byte {
	key := make([]byte, 9)
	key[0] = inodeKeyPrefix
	binary.BigEndian.PutUint64(key[1:], ino)
	return key
}

func encodeLayoutKey(ino uint64) []byte {
	key := make([]byte, 9)
	key[0] = layoutKeyPrefix
	binary.BigEndian.PutUint64(key[1:], ino)
	return key
}

func encodeDentryKey(parent uint64, name string) []byte {
	key := make([]byte, dentryKeyMinSize+len(name))
	key[0] = dentryKeyPrefix
	binary.BigEndian.PutUint64(key[1:], parent)
	key[9] = dentryKeySep
	copy(key[10:], util.StringsToBytes(name))
	return key
}

// encodeDentryKeyPrefix bounds a scan over every entry of one parent.
func encodeDentryKeyPrefix(parent uint64) []byte {
	key := make([]byte, dentryKeyMinSize)
	key[0] = dentryKeyPrefix
	binary.BigEndian.PutUint64(key[1:], parent)
	key[9] = dentryKeySep
	return key
}

func decodeDentryKey(key []byte) (parent uint64, name string, err error) {
	if len(key) < dentryKeyMinSize || key[0] != dentryKeyPrefix || key[9] != dentryKeySep {
		return 0, "", apierrors.ErrInvalidData
	}
	parent = binary.BigEndian.Uint64(key[1:])
	nameRaw := make([]byte, len(key)-dentryKeyMinSize)
	copy(nameRaw, key[dentryKeyMinSize:])
	return parent, util.BytesToString(nameRaw), nil
}

func encodeInodeValue(attr *proto.InodeAttr) []byte {
	value := make([]byte, inodeValueSize)
	binary.BigEndian.PutUint64(value[0:], attr.Ino)
	binary.BigEndian.PutUint32(value[8:], uint32(attr.Mode))
	binary.BigEndian.PutUint32(value[12:], attr.Uid)
	binary.BigEndian.PutUint32(value[16:], attr.Gid)
	binary.BigEndian.PutUint64(value[20:], attr.Size)
	binary.BigEndian.PutUint64(value[28:], attr.Mtime)
	binary.BigEndian.PutUint64(value[36:], attr.Ctime)
	binary.BigEndian.PutUint64(value[44:], attr.Nlink)
	return value
}

func decodeInodeValue(value []byte) (*proto.InodeAttr, error) {
	if len(value) != inodeValueSize {
		return nil, apierrors.ErrInvalidData
	}
	return &proto.InodeAttr{
		Ino:   binary.BigEndian.Uint64(value[0:]),
		Mode:  proto.FileMode(binary.BigEndian.Uint32(value[8:])),
		Uid:   binary.BigEndian.Uint32(value[12:]),
		Gid:   binary.BigEndian.Uint32(value[16:]),
		Size:  binary.BigEndian.Uint64(value[20:]),
		Mtime: binary.BigEndian.Uint64(value[28:]),
		Ctime: binary.BigEndian.Uint64(value[36:]),
		Nlink: binary.BigEndian.Uint64(value[44:]),
	}, nil
}

func encodeDentryValue(ino uint64, typ proto.FileType) []byte {
	value := make([]byte, dentryValueSize)
	binary.BigEndian.PutUint64(value[0:], ino)
	binary.BigEndian.PutUint32(value[8:], uint32(typ))
	return value
}

func decodeDentryValue(value []byte) (ino uint64, typ proto.FileType, err error) {
	if len(value) != dentryValueSize {
		return 0, 0, apierrors.ErrInvalidData
	}
	ino = binary.BigEndian.Uint64(value[0:])
	typ = proto.FileType(binary.BigEndian.Uint32(value[8:]))
	if typ < proto.FileTypeRegular || typ > proto.FileTypeSymlink {
		return 0, 0, apierrors.ErrInvalidData
	}
	return ino, typ, nil
}

func encodeLayoutValue(layout *proto.FileLayout) []byte {
	size := layoutHeaderSize
	for i := range layout.Slices {
		size += layoutSliceMinSize + len(layout.Slices[i].StorageKey)
	}

	value := make([]byte, size)
	binary.BigEndian.PutUint64(value[0:], layout.ChunkSize)
	binary.BigEndian.PutUint32(value[8:], uint32(len(layout.Slices)))

	off := layoutHeaderSize
	for i := range layout.Slices {
		s := &layout.Slices[i]
		binary.BigEndian.PutUint64(value[off:], s.ID)
		binary.BigEndian.PutUint64(value[off+8:], s.Offset)
		binary.BigEndian.PutUint64(value[off+16:], s.Size)
		binary.BigEndian.PutUint32(value[off+24:], uint32(len(s.StorageKey)))
		copy(value[off+layoutSliceMinSize:], s.StorageKey)
		off += layoutSliceMinSize + len(s.StorageKey)
	}
	return value
}

func decodeLayoutValue(ino uint64, value []byte) (*proto.FileLayout, error) {
	if len(value) < layoutHeaderSize {
		return nil, apierrors.ErrInvalidData
	}

	layout := &proto.FileLayout{
		Ino:       ino,
		ChunkSize: binary.BigEndian.Uint64(value[0:]),
	}
	count := binary.BigEndian.Uint32(value[8:])

	off := layoutHeaderSize
	for i := uint32(0); i < count; i++ {
		if off+layoutSliceMinSize > len(value) {
			return nil, apierrors.ErrInvalidData
		}
		s := proto.Slice{
			ID:     binary.BigEndian.Uint64(value[off:]),
			Offset: binary.BigEndian.Uint64(value[off+8:]),
			Size:   binary.BigEndian.Uint64(value[off+16:]),
		}
		keyLen := int(binary.BigEndian.Uint32(value[off+24:]))
		off += layoutSliceMinSize
		if off+keyLen > len(value) {
			return nil, apierrors.ErrInvalidData
		}
		s.StorageKey = string(value[off : off+keyLen])
		off += keyLen
		layout.Slices = append(layout.Slices, s)
	}
	if off != len(value) {
		return nil, apierrors.ErrInvalidData
	}
	return layout, nil
}
