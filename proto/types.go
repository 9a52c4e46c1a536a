// Copyright 2024 The Nebulastore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package proto

const (
	// RootIno is the namespace root. It pre-exists and is never allocated.
	RootIno = uint64(1)

	// DefaultChunkSize is the chunk size assigned to files without a
	// persisted layout.
	DefaultChunkSize = uint64(4 * 1024 * 1024)
)

// FileType is the dentry kind persisted alongside each directory entry.
type FileType uint32

const (
	FileTypeRegular FileType = iota + 1
	FileTypeDirectory
	FileTypeSymlink
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "regular"
	case FileTypeDirectory:
		return "directory"
	case FileTypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// FileMode packs the object kind and permission bits the posix way.
type FileMode uint32

const (
	ModeTypeMask FileMode = 0o170000
	ModeRegular  FileMode = 0o100000
	ModeDir      FileMode = 0o040000
	ModeSymlink  FileMode = 0o120000
)

func (m FileMode) IsRegular() bool { return m&ModeTypeMask == ModeRegular }
func (m FileMode) IsDir() bool     { return m&ModeTypeMask == ModeDir }
func (m FileMode) IsSymlink() bool { return m&ModeTypeMask == ModeSymlink }

// Type maps the mode's kind bits onto the dentry FileType.
func (m FileMode) Type() FileType {
	switch {
	case m.IsDir():
		return FileTypeDirectory
	case m.IsSymlink():
		return FileTypeSymlink
	default:
		return FileTypeRegular
	}
}

// SetAttr field mask.
const (
	AttrMode = uint32(1) << iota
	AttrUid
	AttrGid
	AttrSize
	AttrMtime
)

// InodeAttr is the attribute record of one filesystem object.
type InodeAttr struct {
	Ino   uint64   `json:"ino"`
	Mode  FileMode `json:"mode"`
	Uid   uint32   `json:"uid"`
	Gid   uint32   `json:"gid"`
	Size  uint64   `json:"size"`
	Mtime uint64   `json:"mtime"`
	Ctime uint64   `json:"ctime"`
	Nlink uint64   `json:"nlink"`
}

// Dentry is a named edge from a parent directory inode to a child inode.
type Dentry struct {
	Name string   `json:"name"`
	Ino  uint64   `json:"ino"`
	Type FileType `json:"type"`
}

// Slice is a contiguous byte range of a file backed by one stored chunk.
type Slice struct {
	ID         uint64 `json:"id"`
	Offset     uint64 `json:"offset"`
	Size       uint64 `json:"size"`
	StorageKey string `json:"storage_key"`
}

// FileLayout is the ordered, non-overlapping slice list composing a file's
// current content.
type FileLayout struct {
	Ino       uint64  `json:"ino"`
	ChunkSize uint64  `json:"chunk_size"`
	Slices    []Slice `json:"slices"`
}
