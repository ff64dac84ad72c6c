// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ajroetker/go-loopnest/cmd/loopnestc/schedule"
	"github.com/ajroetker/go-loopnest/loopnest"
	"github.com/ajroetker/go-loopnest/loopnest/contrib/codegen"
	"github.com/ajroetker/go-loopnest/loopnest/contrib/printer"
	"github.com/ajroetker/go-loopnest/loopnest/contrib/target"
	"github.com/ajroetker/go-loopnest/loopnest/contrib/workerpool"
	"github.com/ajroetker/go-loopnest/loopnest/emit/gosrc"
	"github.com/ajroetker/go-loopnest/loopnest/emit/interp"
	"github.com/ajroetker/go-loopnest/loopnest/emit/llvmir"
)

// options are the flags shared by every command.
type options struct {
	logLevel string
	simd     string

	logger *slog.Logger
	target target.Target
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "loopnestc",
		Short:         "Schedule loop nests and generate code for them",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
				return fmt.Errorf("--log-level: %w", err)
			}
			o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			t, err := target.Parse(o.simd)
			if err != nil {
				return err
			}
			o.target = t
			return nil
		},
	}
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&o.simd, "simd", "host", "SIMD target used to resolve vector split sizes")

	root.AddCommand(o.printCmd(), o.emitCmd(), o.runCmd(), o.targetCmd())
	return root
}

func (o *options) printCmd() *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "print FILE...",
		Short: "Print the pseudo-code of each schedule",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.forEachDocument(cmd, args, func(doc schedule.Document) (string, error) {
				sched, err := doc.Build(o.target, nil)
				if err != nil {
					return "", err
				}
				var sb strings.Builder
				if dump {
					if err := sched.Nest.Dump(&sb); err != nil {
						return "", err
					}
				}
				if err := printer.New(&sb).Print(sched.Nest); err != nil {
					return "", fmt.Errorf("%s: %w", doc.Name, err)
				}
				return sb.String(), nil
			})
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "print the loop nest structure before the listing")
	return cmd
}

func (o *options) emitCmd() *cobra.Command {
	var (
		backend   string
		pkg       string
		paramType string
		outDir    string
	)
	cmd := &cobra.Command{
		Use:   "emit FILE...",
		Short: "Generate Go source or LLVM IR for each schedule",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if backend != "go" && backend != "llvm" {
				return fmt.Errorf("unknown backend %q, want go or llvm", backend)
			}
			return o.forEachDocument(cmd, args, func(doc schedule.Document) (string, error) {
				if doc.Name == "" {
					return "", fmt.Errorf("%w: emitting code needs a schedule name", loopnest.ErrInput)
				}
				sched, err := doc.Build(o.target, nil)
				if err != nil {
					return "", err
				}

				var (
					out []byte
					ext string
				)
				switch backend {
				case "go":
					ctx := gosrc.New(pkg, doc.Name, sched.Args, gosrc.WithParamType(paramType))
					if err := codegen.New(ctx, codegen.WithLogger(o.logger)).Run(sched.Nest); err != nil {
						return "", fmt.Errorf("%s: %w", doc.Name, err)
					}
					if out, err = ctx.Source(); err != nil {
						return "", fmt.Errorf("%s: %w", doc.Name, err)
					}
					ext = ".go"
				case "llvm":
					ctx := llvmir.New(doc.Name, sched.Args)
					if err := codegen.New(ctx, codegen.WithLogger(o.logger)).Run(sched.Nest); err != nil {
						return "", fmt.Errorf("%s: %w", doc.Name, err)
					}
					out, ext = []byte(ctx.Finish()), ".ll"
				}

				if outDir == "" {
					return string(out), nil
				}
				path := filepath.Join(outDir, doc.Name+ext)
				if err := os.WriteFile(path, out, 0o644); err != nil {
					return "", err
				}
				o.logger.Info("generated", "schedule", doc.Name, "path", path)
				return "wrote " + path + "\n", nil
			})
		},
	}
	cmd.Flags().StringVarP(&backend, "backend", "b", "go", "code generator: go or llvm")
	cmd.Flags().StringVarP(&pkg, "package", "p", "kernels", "package name of generated Go files")
	cmd.Flags().StringVar(&paramType, "param-type", "[]float32", "Go type of kernel arguments")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "write one file per schedule into this directory instead of stdout")
	return cmd
}

func (o *options) runCmd() *cobra.Command {
	var (
		workers int
		batch   int
		trace   bool
	)
	cmd := &cobra.Command{
		Use:   "run FILE...",
		Short: "Interpret each schedule and report kernel call counts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pool *workerpool.Pool
			if workers != 1 {
				pool = workerpool.New(workers)
				defer pool.Close()
			}
			return o.forEachDocument(cmd, args, func(doc schedule.Document) (string, error) {
				return o.run(doc, pool, batch, trace)
			})
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "workers for parallel loops; 0 uses GOMAXPROCS, 1 runs sequentially")
	cmd.Flags().IntVar(&batch, "batch", 1, "parallel iterations handed to a worker at a time")
	cmd.Flags().BoolVar(&trace, "trace", false, "log every kernel call at debug level")
	return cmd
}

// run interprets doc with kernels that count their calls.
func (o *options) run(doc schedule.Document, pool *workerpool.Pool, batch int, trace bool) (string, error) {
	var ids []string
	counts := map[string]*atomic.Int64{}
	sched, err := doc.Build(o.target, func(k loopnest.Kernel) loopnest.KernelFunc {
		counter, ok := counts[k.ID]
		if !ok {
			counter = &atomic.Int64{}
			counts[k.ID] = counter
			ids = append(ids, k.ID)
		}
		name := k.DisplayName()
		return func(args []loopnest.Value, indices []loopnest.Scalar) {
			counter.Add(1)
			if trace {
				o.logger.Debug("call", "kernel", name, "args", args, "indices", indices)
			}
		}
	})
	if err != nil {
		return "", err
	}

	ctx := interp.New(interp.WithPool(pool), interp.WithBatchSize(batch), interp.WithLogger(o.logger))
	if err := codegen.New(ctx, codegen.WithLogger(o.logger)).Run(sched.Nest); err != nil {
		return "", fmt.Errorf("%s: %w", doc.Name, err)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d calls\n", doc.Name, ctx.Calls())
	for _, id := range ids {
		fmt.Fprintf(&sb, "    %s: %d\n", id, counts[id].Load())
	}
	return sb.String(), nil
}

func (o *options) targetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "target",
		Short: "Print the SIMD target and its float32 lane count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s, %d float32 lanes\n", o.target, o.target.VectorLanes(4))
			return err
		},
	}
}

// forEachDocument loads files and applies fn to every document, with one
// goroutine per file. Results are written in file and document order; the
// first error cancels the remaining files.
func (o *options) forEachDocument(cmd *cobra.Command, files []string, fn func(schedule.Document) (string, error)) error {
	results := make([][]string, len(files))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(runtime.GOMAXPROCS(0))
	for n, file := range files {
		g.Go(func() error {
			docs, err := schedule.Load(file)
			if err != nil {
				return err
			}
			for _, doc := range docs {
				if err := context.Cause(ctx); err != nil {
					return err
				}
				o.logger.Debug("processing", "file", file, "schedule", doc.Name)
				out, err := fn(doc)
				if err != nil {
					return fmt.Errorf("%s: %w", file, err)
				}
				results[n] = append(results[n], out)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return writeAll(cmd.OutOrStdout(), results)
}

func writeAll(w io.Writer, results [][]string) error {
	for _, outs := range results {
		for _, out := range outs {
			if _, err := io.WriteString(w, out); err != nil {
				return err
			}
		}
	}
	return nil
}
