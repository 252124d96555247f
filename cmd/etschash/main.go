// Copyright 2017 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Command etschash drives the PoW core from outside a host chain: it can
// pre-generate caches and DAGs for a given block number, print the seed
// hash for an epoch, and quick-verify a (header, nonce, mix) triple against
// a boundary.
package main

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ETSC3259/etschash/consensus/ethash"
	"github.com/ETSC3259/etschash/internal/elog"
)

var (
	blockFlag = &cli.Uint64Flag{
		Name:  "block",
		Usage: "block number selecting the epoch",
	}
	dirFlag = &cli.StringFlag{
		Name:  "dir",
		Usage: "directory to persist the cache/DAG in (memory-only if empty)",
	}
	headerFlag = &cli.StringFlag{
		Name:     "header",
		Usage:    "32-byte hex-encoded header digest",
		Required: true,
	}
	nonceFlag = &cli.Uint64Flag{
		Name:     "nonce",
		Usage:    "64-bit nonce",
		Required: true,
	}
	mixFlag = &cli.StringFlag{
		Name:  "mix",
		Usage: "32-byte hex-encoded mix digest, required by the verify command",
	}
	difficultyFlag = &cli.StringFlag{
		Name:  "difficulty",
		Usage: "decimal difficulty to derive the boundary from, required by the verify command",
	}
)

func main() {
	app := &cli.App{
		Name:  "etschash",
		Usage: "etschash proof-of-work cache/DAG/verification utility",
		Commands: []*cli.Command{
			makeCacheCommand,
			makeDAGCommand,
			seedHashCommand,
			verifyCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var makeCacheCommand = &cli.Command{
	Name:      "make-cache",
	Usage:     "generate (or load) the verification cache for a block's epoch",
	ArgsUsage: "--block <n> [--dir <path>]",
	Flags:     []cli.Flag{blockFlag, dirFlag},
	Action: func(ctx *cli.Context) error {
		light, err := ethash.NewLight(ethash.Config{CacheDir: ctx.String("dir")}, ctx.Uint64("block"))
		if err != nil {
			return err
		}
		defer light.Release()
		elog.New().Info("cache ready", "block", ctx.Uint64("block"), "dir", ctx.String("dir"))
		return nil
	},
}

var makeDAGCommand = &cli.Command{
	Name:      "make-dag",
	Usage:     "generate (or load) the mining DAG for a block's epoch",
	ArgsUsage: "--block <n> [--dir <path>]",
	Flags:     []cli.Flag{blockFlag, dirFlag},
	Action: func(ctx *cli.Context) error {
		dir := ctx.String("dir")
		light, err := ethash.NewLight(ethash.Config{CacheDir: dir}, ctx.Uint64("block"))
		if err != nil {
			return err
		}
		defer light.Release()

		reported := -1
		full, err := ethash.NewFull(light, dir, func(percent int) bool {
			if percent != reported {
				reported = percent
				fmt.Fprintf(os.Stderr, "\rgenerating DAG: %3d%%", percent)
			}
			return true
		})
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		defer full.Release()
		elog.New().Info("DAG ready", "block", ctx.Uint64("block"), "dir", dir)
		return nil
	},
}

var seedHashCommand = &cli.Command{
	Name:      "seedhash",
	Usage:     "print the seed hash for a block's epoch",
	ArgsUsage: "--block <n>",
	Flags:     []cli.Flag{blockFlag},
	Action: func(ctx *cli.Context) error {
		seed := ethash.SeedHash(ctx.Uint64("block"))
		fmt.Println(hex.EncodeToString(seed[:]))
		return nil
	},
}

var verifyCommand = &cli.Command{
	Name:      "verify",
	Usage:     "quick-verify a (header, nonce, mix) triple against a difficulty",
	ArgsUsage: "--header <hex> --nonce <n> --mix <hex> --difficulty <dec>",
	Flags:     []cli.Flag{headerFlag, nonceFlag, mixFlag, difficultyFlag},
	Action: func(ctx *cli.Context) error {
		header, err := decode32(ctx.String("header"))
		if err != nil {
			return fmt.Errorf("header: %w", err)
		}
		mix, err := decode32(ctx.String("mix"))
		if err != nil {
			return fmt.Errorf("mix: %w", err)
		}
		difficulty, ok := new(big.Int).SetString(ctx.String("difficulty"), 10)
		if !ok {
			return fmt.Errorf("invalid difficulty %q", ctx.String("difficulty"))
		}
		var boundary [32]byte
		ethash.Boundary(difficulty).FillBytes(boundary[:])

		if ethash.QuickCheckDifficulty(header, ctx.Uint64("nonce"), mix, boundary) {
			fmt.Println("valid")
			return nil
		}
		fmt.Println("invalid")
		os.Exit(1)
		return nil
	},
}

func decode32(s string) (out [32]byte, err error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
