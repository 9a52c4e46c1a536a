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

/*

# MetaDB: range-partitioned filesystem metadata over ordered KV

## Data Model

* Inode, inode number(ino) --> fixed-width attribute record

* Dentry, <parent ino, name> --> <child ino, type>

* Layout, ino --> chunk size + ordered slice list describing where file
  data lives in object storage

All three record kinds share one ordered keyspace with canonical
big-endian encodings, so a range scan over a partition recovers its
full state.

## Architecture

* Partition - owns a contiguous ino range backed by a single KV store
  instance, with an in-memory index rebuilt by scan on open

* Router - stateless path resolution over the partition set; walks
  dentries from the root ino and forwards each operation to the
  partition owning the target ino

* Namespace - optional posix/s3 path front end that pairs metadata
  operations with an object-data backend (local dir or S3)

Partitions split in place when they grow past a threshold: the ino
range is halved and the upper half is served by a new partition over
the same store.

## Building Blocks

* Badger
* aws-sdk-go-v2
* Prometheus

*/

package metadb
