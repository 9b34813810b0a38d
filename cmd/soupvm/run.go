package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pierrec/lz4/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"soupvm/internal/heap"
	"soupvm/internal/isolate"
	"soupvm/internal/snapshot"
)

// newRunCmd loads a snapshot image and runs its isolate to completion
// (spec §6.4's `run` subcommand). SIGUSR1 is treated as this process's
// interrupt signal, the OS-level counterpart to `soupvm interrupt`
// (see newInterruptCmd's doc comment for why a signal rather than a
// richer IPC channel is this port's deliberately minimal choice).
func newRunCmd(log *logrus.Logger) *cobra.Command {
	var imagePath string
	var compressed bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a snapshot image",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImage(cmd.Context(), log, imagePath, compressed)
		},
	}
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "path to a snapshot image file")
	cmd.MarkFlagRequired("image")
	cmd.Flags().BoolVarP(&compressed, "compressed", "z", false,
		"force LZ4-framed decompression regardless of the image's file extension")
	return cmd
}

func runImage(ctx context.Context, log *logrus.Logger, imagePath string, compressed bool) error {
	entry := logrus.NewEntry(log)

	f, err := os.Open(imagePath)
	if err != nil {
		return err
	}
	defer f.Close()

	r := imageReader(f, imagePath, compressed)

	h, err := heap.New(heap.DefaultConfig(), deriveSalt(), entry)
	if err != nil {
		return err
	}

	h.SetMode(heap.ModeSnapshot)
	store, err := snapshot.Deserialize(h, r)
	if err != nil {
		return err
	}
	h.SetMode(heap.ModeNormal)

	iso := isolate.New(isolate.NewID(), h, store, entry)
	defer iso.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			isolate.InterruptAll([]*isolate.Isolate{iso})
		}
	}()

	reason := iso.Interp.Run()
	log.WithField("reason", reason).Info("soupvm: isolate exited")
	return nil
}

// imageReader wraps f in a streaming LZ4 decompressor when the image is
// LZ4-framed (SPEC_FULL.md domain stack: the snapshot wire format itself,
// per spec §6.1, has no compression story, so this is an envelope around
// it rather than a cluster-reader concern) — either because the caller
// forced it with --compressed or because the path carries the
// conventional `.soup.lz4` suffix.
func imageReader(f *os.File, path string, compressed bool) io.Reader {
	if compressed || strings.HasSuffix(path, ".lz4") {
		return lz4.NewReader(f)
	}
	return f
}

func deriveSalt() uint32 {
	// A fresh process-lifetime salt is all spec §4.1's identity-hash
	// salting needs; it does not need to be cryptographically random,
	// only distinct across runs.
	return uint32(os.Getpid())
}
