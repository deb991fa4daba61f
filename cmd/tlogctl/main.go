// Copyright 2025 Google LLC. All Rights Reserved.
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

// Command tlogctl drives a transparent log directly from the command line:
// append a record, print the current root, or check that a record is
// included, all against a single bbolt-backed log file.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/transparentlog/tlog/client"
	"github.com/transparentlog/tlog/record"
	"github.com/transparentlog/tlog/server"
	"github.com/transparentlog/tlog/store/boltstore"
)

var (
	dbPath string
	log    = logrus.WithField("component", "tlogctl")
)

func main() {
	root := &cobra.Command{
		Use:   "tlogctl",
		Short: "Drive a transparent append-only log from the command line.",
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "tlog.bolt", "path to the log's bbolt database file")

	root.AddCommand(appendCmd(), latestCmd(), checkCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openServer() (*server.Server, *boltstore.Backend, error) {
	b, err := boltstore.Open(dbPath)
	if err != nil {
		return nil, nil, pkgerrors.Wrapf(err, "open %s", dbPath)
	}
	return server.New(b), b, nil
}

func appendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "append <text>",
		Short: "Append a text record to the log.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, b, err := openServer()
			if err != nil {
				return err
			}
			defer b.Close()

			r, err := s.Append(context.Background(), args[0])
			if err != nil {
				return pkgerrors.Wrap(err, "append record")
			}
			log.WithFields(logrus.Fields{"id": r.ID, "hash": r.Hash}).Info("appended record")
			fmt.Printf("id=%d hash=%s\n", r.ID, r.Hash)
			return nil
		},
	}
}

func latestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Print the log's current size and root hash.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, b, err := openServer()
			if err != nil {
				return err
			}
			defer b.Close()

			lt, err := s.Latest(context.Background())
			if err != nil {
				return pkgerrors.Wrap(err, "fetch latest root")
			}
			fmt.Printf("size=%d root=%s\n", lt.Size, lt.Hash)
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <id>",
		Short: "Verify that the record at id is included in the log's current tree.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return pkgerrors.Wrapf(err, "parse record id %q", args[0])
			}

			s, b, err := openServer()
			if err != nil {
				return err
			}
			defer b.Close()

			ctx := context.Background()
			data, err := s.Get(ctx, id)
			if err != nil {
				return pkgerrors.Wrapf(err, "fetch record %d", id)
			}
			leaf := record.LeafHash(data)

			c := client.New(s)
			ok, err := c.CheckRecord(ctx, id, leaf)
			if err != nil {
				return pkgerrors.Wrap(err, "check record")
			}
			if !ok {
				log.WithField("id", id).Error("record failed inclusion check")
				fmt.Printf("record %d: FAILED inclusion check\n", id)
				os.Exit(1)
			}
			fmt.Printf("record %d: included, witness size=%d root=%s\n", id, c.Witness().Size, c.Witness().Hash)
			return nil
		},
	}
}
