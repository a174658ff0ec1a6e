package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/soypat/ecsfs"
)

// addFile copies the host file at hostPath into the volume as name.
// A volume that fills up keeps the bytes that fit.
func addFile(fsys *ecsfs.FS, w io.Writer, hostPath, name string) error {
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return fmt.Errorf("reading host file: %w", err)
	}
	if name == "" {
		if name, err = volumeName(hostPath); err != nil {
			return fmt.Errorf("naming `%s`: %w", hostPath, err)
		}
	}
	if err := fsys.Create(name); err != nil {
		return fmt.Errorf("creating `%s`: %w", name, err)
	}
	f, err := fsys.OpenFile(name)
	if err != nil {
		return fmt.Errorf("opening `%s`: %w", name, err)
	}
	defer f.Close()

	written := 0
	if len(data) > 0 {
		written, err = f.Write(data)
		if err != nil && !errors.Is(err, ecsfs.ErrNoSpace) {
			return fmt.Errorf("writing `%s`: %w", name, err)
		}
	}
	fmt.Fprintf(w, "Wrote file '%s' (%d/%d bytes)\n", name, written, len(data))
	return nil
}

// catFile prints the content of name.
func catFile(fsys *ecsfs.FS, w io.Writer, name string) error {
	f, err := fsys.OpenFile(name)
	if err != nil {
		return fmt.Errorf("opening `%s`: %w", name, err)
	}
	defer f.Close()
	size, err := f.Size()
	if err != nil {
		return err
	}
	if size == 0 {
		fmt.Fprintln(w, "Empty file")
		return nil
	}
	fmt.Fprintf(w, "Read file '%s' (%d bytes)\nContent of the file:\n", name, size)
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading `%s`: %w", name, err)
	}
	return nil
}

func listFiles(fsys *ecsfs.FS, w io.Writer) {
	fmt.Fprintln(w, "FS Ls:")
	for fe := range fsys.List() {
		fmt.Fprintln(w, fe)
	}
}

func statFile(fsys *ecsfs.FS, w io.Writer, name string) error {
	fd, err := fsys.Open(name)
	if err != nil {
		return fmt.Errorf("opening `%s`: %w", name, err)
	}
	defer fsys.Close(fd)
	size, err := fsys.Stat(fd)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Size of file '%s' is %d bytes\n", name, size)
	return nil
}

// checkVolume prints every inconsistency found on the volume.
func checkVolume(fsys *ecsfs.FS, w io.Writer) error {
	err := fsys.Check()
	if err == nil {
		fmt.Fprintln(w, "Volume is consistent")
		return nil
	}
	var problems []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		problems = joined.Unwrap()
	} else {
		problems = []error{err}
	}
	for _, p := range problems {
		fmt.Fprintln(w, p)
	}
	return fmt.Errorf("%d problems found: %w", len(problems), ecsfs.ErrCorruptFAT)
}
