// Package shm provides a file-backed surface store for machines without a
// virtual GPU device.
//
// A store lives in a directory, normally under /dev/shm. The host opens the
// directory and hands its descriptor to Open, which is a surface.OpenFunc:
//
//	fd, err := shm.OpenDir("/dev/shm/bufmgr")
//	// ...
//	mgr, err := plugin.Init(ctx, fd, shm.Open, plugin.DefaultConfig())
//
// Every surface is one file holding a small header page followed by the
// pixel data. Exporting a surface hard-links its file as name-<n>; any
// process with a descriptor on the same directory can then import it by n.
// Handles are local to one Backend.
package shm
