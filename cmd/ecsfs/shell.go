package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/soypat/ecsfs"
)

const shellHelp = `commands:
  create NAME        create an empty file
  rm NAME            delete a file
  open NAME          open a file and make it current
  close [FD]         close FD or the current descriptor
  switch FD          make FD current
  lseek OFFSET       move the current cursor
  write TEXT         write TEXT at the current cursor
  write @HOSTFILE    write the content of a host file
  read N             read up to N bytes at the current cursor
  stat               size of the current file
  add HOSTFILE [NAME], cat NAME, ls, info, check
  help, quit
`

// shell is an interactive session on a mounted volume. Errors from commands
// are printed and do not end the session.
type shell struct {
	fsys *ecsfs.FS
	out  io.Writer
	cur  int
	open map[int]string
}

// runShell reads commands from in until quit or end of input. Descriptors
// still open at exit are closed so the volume can be unmounted.
func runShell(fsys *ecsfs.FS, in io.Reader, out io.Writer) error {
	sh := &shell{fsys: fsys, out: out, cur: -1, open: make(map[int]string)}
	defer sh.closeAll()
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "$ ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			return nil
		}
		if line != "" {
			if err := sh.exec(line); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
		fmt.Fprint(out, "$ ")
	}
	return scanner.Err()
}

func (sh *shell) exec(line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)
	switch cmd {
	case "help":
		fmt.Fprint(sh.out, shellHelp)
		return nil
	case "ls":
		listFiles(sh.fsys, sh.out)
		return nil
	case "info":
		info, err := sh.fsys.Info()
		if err != nil {
			return err
		}
		fmt.Fprint(sh.out, info)
		return nil
	case "check":
		return checkVolume(sh.fsys, sh.out)
	case "stat":
		size, err := sh.fsys.Stat(sh.cur)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "Size of file '%s' is %d bytes\n", sh.open[sh.cur], size)
		return nil
	case "write":
		return sh.write(rest)
	}

	switch cmd {
	case "close":
	case "create", "rm", "open", "switch", "lseek", "read", "add", "cat":
		if len(args) == 0 {
			return fmt.Errorf("%s: missing argument", cmd)
		}
	default:
		return fmt.Errorf("unknown command `%s`; try help", cmd)
	}
	switch cmd {
	case "create":
		return sh.fsys.Create(args[0])
	case "rm":
		if err := sh.fsys.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "Removed file '%s'\n", args[0])
		return nil
	case "open":
		fd, err := sh.fsys.Open(args[0])
		if err != nil {
			return err
		}
		sh.open[fd] = args[0]
		sh.cur = fd
		fmt.Fprintf(sh.out, "fd %d\n", fd)
		return nil
	case "close":
		fd := sh.cur
		if len(args) > 0 {
			var err error
			if fd, err = strconv.Atoi(args[0]); err != nil {
				return err
			}
		}
		if err := sh.fsys.Close(fd); err != nil {
			return err
		}
		delete(sh.open, fd)
		if fd == sh.cur {
			sh.cur = -1
		}
		return nil
	case "switch":
		fd, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		} else if _, ok := sh.open[fd]; !ok {
			return ecsfs.ErrBadDescriptor
		}
		sh.cur = fd
		return nil
	case "lseek":
		off, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		return sh.fsys.Lseek(sh.cur, off)
	case "read":
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		} else if n < 0 {
			return ecsfs.ErrInvalidArgument
		}
		buf := make([]byte, n)
		n, err = sh.fsys.Read(sh.cur, buf)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%q\n", buf[:n])
		return nil
	case "add":
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		return addFile(sh.fsys, sh.out, args[0], name)
	case "cat":
		return catFile(sh.fsys, sh.out, args[0])
	}
	return nil
}

func (sh *shell) write(arg string) error {
	data := []byte(arg)
	if host, ok := strings.CutPrefix(arg, "@"); ok {
		var err error
		if data, err = os.ReadFile(host); err != nil {
			return err
		}
	}
	n, err := sh.fsys.Write(sh.cur, data)
	if err != nil && !errors.Is(err, ecsfs.ErrNoSpace) {
		return err
	}
	fmt.Fprintf(sh.out, "wrote %d/%d bytes\n", n, len(data))
	return err
}

func (sh *shell) closeAll() {
	for fd := range sh.open {
		sh.fsys.Close(fd)
	}
	clear(sh.open)
	sh.cur = -1
}
