// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command wcbench is a small embedding example for the driver core: it
// builds a config.Config, starts a processor.Manager, fires a configurable
// number of synthetic requests at an in-memory fakecluster coordinator (no
// real cluster bootstrapping or control connection is implemented), and
// reports completion counts.
package main

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/urfave/cli"

	"github.com/veladb/wcdriver/config"
	"github.com/veladb/wcdriver/host"
	"github.com/veladb/wcdriver/internal/fakecluster"
	"github.com/veladb/wcdriver/processor"
	"github.com/veladb/wcdriver/request"
	"github.com/veladb/wcdriver/router"
)

func main() {
	app := cli.NewApp()
	app.Name = "wcbench"
	app.Usage = "exercise the wide-column driver core against an in-memory fake cluster"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "contact-points",
			Value: "127.0.0.1:9042,127.0.0.1:9043",
			Usage: "comma-separated fake coordinator addresses",
		},
		cli.StringFlag{
			Name:  "keyspace",
			Value: "bench",
			Usage: "default keyspace broadcast to every processor",
		},
		cli.IntFlag{
			Name:  "num-threads",
			Value: config.Default().NumThreads,
			Usage: "number of RequestProcessors",
		},
		cli.IntFlag{
			Name:  "queue-size-io",
			Value: config.Default().QueueSizeIO,
			Usage: "request intake capacity per processor",
		},
		cli.IntFlag{
			Name:  "requests",
			Value: 1000,
			Usage: "number of synthetic requests to submit",
		},
		cli.StringFlag{
			Name:  "local-dc",
			Value: "dc1",
			Usage: "local datacenter for the default load-balancing policy",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.NumThreads = c.Int("num-threads")
	cfg.QueueSizeIO = c.Int("queue-size-io")
	cfg.Logger = log.New(os.Stderr, "wcbench: ", log.LstdFlags)
	if err := cfg.Validate(); err != nil {
		return err
	}

	addrs := splitCSV(c.String("contact-points"))
	cluster := fakecluster.New()
	for _, addr := range addrs {
		cluster.AddHost(addr)
	}

	lb := router.NewTokenAwarePolicy(c.String("local-dc"))
	retry := router.NewDefaultRetryPolicy()
	mgr, err := processor.NewManager(cfg, cluster, lb, retry)
	if err != nil {
		return err
	}

	for _, addr := range addrs {
		mgr.NotifyHostAdd(host.New(addr, c.String("local-dc"), "rack1", nil))
	}
	mgr.NotifyKeyspace(c.String("keyspace"))

	// Give every pool's Core connections a moment to dial before hammering
	// it with requests; a production control connection would instead wait
	// for an explicit "pool ready" signal, not implemented here.
	time.Sleep(200 * time.Millisecond)

	n := c.Int("requests")
	var succeeded, failed int64
	start := time.Now()
	deadline := time.Duration(cfg.RequestTimeoutMS) * time.Millisecond

	futures := make([]*request.Future, n)
	for i := 0; i < n; i++ {
		fut := request.New(request.Statement{
			Query:      fmt.Sprintf("SELECT * FROM bench.t WHERE k = %d", i),
			Idempotent: true,
		}, time.Now().Add(deadline))
		if err := mgr.Submit(fut); err != nil {
			atomic.AddInt64(&failed, 1)
			continue // never handed to a processor, so it never terminates: don't Wait on it
		}
		futures[i] = fut
	}

	for _, fut := range futures {
		if fut == nil {
			continue
		}
		if _, err := fut.Wait(); err != nil {
			atomic.AddInt64(&failed, 1)
		} else {
			atomic.AddInt64(&succeeded, 1)
		}
	}

	elapsed := time.Since(start)
	fmt.Printf("submitted=%d succeeded=%d failed=%d elapsed=%s\n", n, succeeded, failed, elapsed)

	mgr.CloseHandles()
	mgr.Join()
	if err := mgr.Close(); err != nil {
		cfg.Logger.Printf("close: %v", err)
	}
	cluster.Close()
	return nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
