// Package archive writes, restores and checks fixture archives.
//
// A fixture is a zip file mirroring one or more prepared trees, each stored
// under its own prefix (root/ and unpack/). While walking a tree:
//
//   - files whose name ends in a placeholder suffix (.snap by default) are
//     stored as a single placeholder byte;
//   - every other regular file is stored byte-identical;
//   - a directory that contains no files directly is written as an
//     explicit directory entry so empty structure survives the round trip;
//   - symlinks are stored as their target with the symlink mode bit set.
//
// Entries are written in lexical order with a fixed timestamp, so the same
// trees always produce the same archive bytes.
package archive
