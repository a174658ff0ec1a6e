// Command ecsfs creates, inspects and edits ECS150FS disk images.
package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/soypat/ecsfs"
	"github.com/soypat/ecsfs/disk"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	var (
		cfg    *Config
		logger *slog.Logger
	)
	withVolume := func(f func(fsys *ecsfs.FS, ctx *cli.Context) error) cli.ActionFunc {
		return func(ctx *cli.Context) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			var fsys ecsfs.FS
			fsys.SetLogger(logger)
			if err := fsys.Mount(cfg.Disk); err != nil {
				return err
			}
			err := f(&fsys, ctx)
			if uerr := fsys.Unmount(); uerr != nil {
				err = errors.Join(err, fmt.Errorf("unmounting: %w", uerr))
			}
			return err
		}
	}
	nameArg := func(ctx *cli.Context) (string, error) {
		if ctx.Args().Len() != 1 {
			return "", fmt.Errorf("%s: expected exactly one NAME argument", ctx.Command.Name)
		}
		return ctx.Args().First(), nil
	}

	return &cli.App{
		Name:  appName,
		Usage: "create, inspect and edit ECS150FS disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "disk",
				Aliases: []string{"d"},
				Usage:   "disk image `FILE`; overrides " + envVarPrefix + "_DISK",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json",
			},
		},
		Before: func(ctx *cli.Context) error {
			var err error
			if cfg, err = LoadConfig(); err != nil {
				return err
			}
			if ctx.IsSet("disk") {
				cfg.Disk = ctx.String("disk")
			}
			if ctx.IsSet("log-level") {
				cfg.LogLevel = ctx.String("log-level")
			}
			if ctx.IsSet("log-format") {
				cfg.LogFormat = ctx.String("log-format")
			}
			logger, err = cfg.Logger(ctx.App.ErrWriter)
			return err
		},
		Commands: []*cli.Command{{
			Name:      "make",
			Aliases:   []string{"format"},
			Usage:     "create a disk image holding an empty volume",
			ArgsUsage: "DISK DATA_BLOCKS",
			Action: func(ctx *cli.Context) error {
				if ctx.Args().Len() != 2 {
					return fmt.Errorf("make: expected DISK and DATA_BLOCKS")
				}
				name := ctx.Args().Get(0)
				n, err := strconv.Atoi(ctx.Args().Get(1))
				if err != nil || n <= 0 || ecsfs.VolumeBlocks(n) > 0xffff {
					return fmt.Errorf("make: invalid data block count `%s`", ctx.Args().Get(1))
				}
				dev, err := disk.Create(name, ecsfs.VolumeBlocks(n))
				if err != nil {
					return err
				}
				var f ecsfs.Formatter
				if err := f.Format(dev, ecsfs.FormatConfig{DataBlocks: n}); err != nil {
					dev.Close()
					return err
				}
				fmt.Fprintf(ctx.App.Writer, "Created disk '%s' with %d data blocks\n", name, n)
				return dev.Close()
			},
		}, {
			Name:  "info",
			Usage: "display volume layout and occupancy",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "yaml", Usage: "print as YAML"},
			},
			Action: withVolume(func(fsys *ecsfs.FS, ctx *cli.Context) error {
				info, err := fsys.Info()
				if err != nil {
					return err
				}
				if !ctx.Bool("yaml") {
					_, err = fmt.Fprint(ctx.App.Writer, info)
					return err
				}
				data, err := yaml.Marshal(info)
				if err != nil {
					return fmt.Errorf("marshaling info to YAML: %w", err)
				}
				_, err = ctx.App.Writer.Write(data)
				return err
			}),
		}, {
			Name:    "ls",
			Aliases: []string{"list"},
			Usage:   "list files",
			Action: withVolume(func(fsys *ecsfs.FS, ctx *cli.Context) error {
				listFiles(fsys, ctx.App.Writer)
				return nil
			}),
		}, {
			Name:      "add",
			Usage:     "copy a host file into the volume",
			ArgsUsage: "HOSTFILE [NAME]",
			Action: withVolume(func(fsys *ecsfs.FS, ctx *cli.Context) error {
				if n := ctx.Args().Len(); n < 1 || n > 2 {
					return fmt.Errorf("add: expected HOSTFILE [NAME]")
				}
				return addFile(fsys, ctx.App.Writer, ctx.Args().Get(0), ctx.Args().Get(1))
			}),
		}, {
			Name:      "cat",
			Usage:     "print a file",
			ArgsUsage: "NAME",
			Action: withVolume(func(fsys *ecsfs.FS, ctx *cli.Context) error {
				name, err := nameArg(ctx)
				if err != nil {
					return err
				}
				return catFile(fsys, ctx.App.Writer, name)
			}),
		}, {
			Name:      "rm",
			Aliases:   []string{"delete"},
			Usage:     "delete a file",
			ArgsUsage: "NAME",
			Action: withVolume(func(fsys *ecsfs.FS, ctx *cli.Context) error {
				name, err := nameArg(ctx)
				if err != nil {
					return err
				}
				if err := fsys.Delete(name); err != nil {
					return err
				}
				fmt.Fprintf(ctx.App.Writer, "Removed file '%s'\n", name)
				return nil
			}),
		}, {
			Name:      "stat",
			Usage:     "print the size of a file",
			ArgsUsage: "NAME",
			Action: withVolume(func(fsys *ecsfs.FS, ctx *cli.Context) error {
				name, err := nameArg(ctx)
				if err != nil {
					return err
				}
				return statFile(fsys, ctx.App.Writer, name)
			}),
		}, {
			Name:  "check",
			Usage: "verify the allocation table against the root directory",
			Action: withVolume(func(fsys *ecsfs.FS, ctx *cli.Context) error {
				return checkVolume(fsys, ctx.App.Writer)
			}),
		}, {
			Name:  "shell",
			Usage: "run commands interactively on the mounted volume",
			Action: withVolume(func(fsys *ecsfs.FS, ctx *cli.Context) error {
				return runShell(fsys, os.Stdin, ctx.App.Writer)
			}),
		}},
	}
}
