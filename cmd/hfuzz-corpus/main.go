// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Command hfuzz-corpus drives the corpus engine end to end: it seeds the
// dynamic corpus from an on-disk static corpus during a dry run, then
// samples from it the way a worker would during the main fuzzing phase,
// printing periodic stats. It does not itself execute a fuzz target or
// compute coverage — that is the surrounding fuzzer's job (spec §1); this
// binary exists to exercise the engine's wiring.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avfield/hfcorpus/blacklist"
	"github.com/avfield/hfcorpus/corpus"
	"github.com/avfield/hfcorpus/dictionary"
	"github.com/avfield/hfcorpus/hfuzz"
	"github.com/avfield/hfcorpus/input"
	"github.com/avfield/hfcorpus/staticcorpus"
)

var (
	flagWorkdir     = flag.String("workdir", ".", "dir with persistent work data")
	flagInputDir    = flag.String("input", "", "dir with the static corpus (required)")
	flagOutputDir   = flag.String("outputdir", "", "dir new dynamic corpus entries are persisted to (defaults to -input)")
	flagNewCovDir   = flag.String("newcovdir", "", "dir that additionally receives entries found during DYNAMIC_MAIN")
	flagMaxFileSize = flag.Int("maxfilesize", 0, "operator ceiling on static corpus file size, 0 means derive it")
	flagDict        = flag.String("dict", "", "dictionary file")
	flagBlacklist   = flag.String("blacklist", "", "sorted hash blacklist file")
	flagSocket      = flag.Bool("socket_fuzzer", false, "suppress on-disk persistence of new corpus entries")
	flagStatsPeriod = flag.Duration("statsinterval", 5*time.Second, "interval between stats lines")
	flagMetricsAddr = flag.String("metricsaddr", "", "if set, serve Prometheus metrics on this address")
	flagExternalGen = flag.String("externalgen", "", "if set, run this command to generate each dry-run seed instead of reading -input")
)

// cliOracle is the minimal hfuzz.PhaseOracle this binary needs: it starts
// in DRY_RUN, the main loop flips it to DYNAMIC_MAIN once the static
// corpus is exhausted, and a SIGINT flips terminating.
type cliOracle struct {
	phase        atomic.Int32
	terminating  atomic.Bool
	socketFuzzer bool
}

func (o *cliOracle) Phase() hfuzz.Phase     { return hfuzz.Phase(o.phase.Load()) }
func (o *cliOracle) Terminating() bool      { return o.terminating.Load() }
func (o *cliOracle) SocketFuzzer() bool     { return o.socketFuzzer }
func (o *cliOracle) setPhase(p hfuzz.Phase) { o.phase.Store(int32(p)) }

// execRunner shells out via os/exec, the obvious default for the
// CommandRunner seam (spec §6); a real deployment may swap in something
// that talks to a sandboxed worker instead.
type execRunner struct{}

func (execRunner) Run(cmd string, argv []string) (int, error) {
	c := exec.Command(cmd, argv...)
	err := c.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if *flagInputDir == "" {
		glog.Fatalf("-input is not set")
	}
	outputDir := *flagOutputDir
	if outputDir == "" {
		outputDir = *flagInputDir
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT)
		<-c
		glog.Infof("hfuzz-corpus: shutting down...")
		cancel()
	}()

	oracle := &cliOracle{socketFuzzer: *flagSocket}
	oracle.setPhase(hfuzz.PhaseDryRun)

	static, err := staticcorpus.New(*flagInputDir, *flagMaxFileSize)
	if err != nil {
		glog.Fatalf("hfuzz-corpus: %v", err)
	}
	defer static.Close()

	if *flagDict != "" {
		if _, err := dictionary.Load(*flagDict); err != nil {
			glog.Fatalf("hfuzz-corpus: load dictionary: %v", err)
		}
	}
	if *flagBlacklist != "" {
		if _, err := blacklist.Load(*flagBlacklist); err != nil {
			glog.Fatalf("hfuzz-corpus: load blacklist: %v", err)
		}
	}

	dc := corpus.New(corpus.Config{
		OutputDir: outputDir,
		InputDir:  *flagInputDir,
		NewCovDir: *flagNewCovDir,
		Oracle:    oracle,
	})
	if n, err := dc.LoadDir(outputDir); err != nil {
		glog.Warningf("hfuzz-corpus: resume from %s: %v", outputDir, err)
	} else if n > 0 {
		glog.Infof("hfuzz-corpus: resumed %d entries from %s", n, outputDir)
	}

	prometheus.MustRegister(dc, static)
	if *flagMetricsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*flagMetricsAddr, nil); err != nil {
				glog.Warningf("hfuzz-corpus: metrics server: %v", err)
			}
		}()
	}

	prep, err := input.New(input.Config{
		InputDir: *flagInputDir,
		WorkDir:  *flagWorkdir,
		Oracle:   oracle,
		Static:   static,
		Dynamic:  dc,
		Runner:   execRunner{},
	}, int(static.MaxInputSz()))
	if err != nil {
		glog.Fatalf("hfuzz-corpus: %v", err)
	}
	defer prep.Close()

	runDryRun(prep, dc, oracle, *flagExternalGen)
	oracle.setPhase(hfuzz.PhaseDynamicMain)
	glog.Infof("hfuzz-corpus: entering DYNAMIC_MAIN with %d corpus entries", dc.Count())

	runMain(ctx, prep, dc, oracle, *flagStatsPeriod)
}

// runDryRun implements the dry-run seeding pass: every static file is read
// in doubling prefixes (spec §4.6.1 DRY_RUN branch, with rewind disabled so
// the pass ends once the directory is exhausted) and each prefix read is,
// since no real target is wired in, recorded with zero coverage — the same
// shape LoadDir uses when resuming from disk.
func runDryRun(prep *input.Preparer, dc *corpus.DynamicCorpus, oracle *cliOracle, externalGen string) {
	for {
		if externalGen != "" {
			if !prep.PrepareExternalFile(externalGen) {
				break
			}
		} else if !prep.PrepareStaticFile(false, false) {
			break
		}
		dc.AddDynamicInput(prep.Buffer().Data(), hfuzz.Coverage{}, "")
	}
}

// runMain samples the dynamic corpus the way a worker would during
// DYNAMIC_MAIN, printing a stats line every statsPeriod (teacher's
// broadcastStats style) and, at -v=2, a tablewriter breakdown of the
// sampling distribution across the corpus.
func runMain(ctx context.Context, prep *input.Preparer, dc *corpus.DynamicCorpus, oracle *cliOracle, statsPeriod time.Duration) {
	ticker := time.NewTicker(statsPeriod)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			oracle.terminating.Store(true)
			return
		case <-ticker.C:
			broadcastStats(dc, start)
			if glog.V(2) {
				printSamplingTable(dc)
			}
		default:
			if dc.Count() == 0 {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			prep.PrepareDynamicInput(false)
		}
	}
}

func broadcastStats(dc *corpus.DynamicCorpus, start time.Time) {
	s := dc.Stats()
	glog.Infof("corpus: %d entries, new since last dry run: %d, tested: %d, uptime: %v",
		s.Count, s.NewUnitsAdded, s.TestedFileCnt, time.Since(start).Truncate(time.Second))
}

// printSamplingTable renders the same per-entry numTests bias the engine
// applies internally, so an operator can see why the top percentiles are
// drawn more often without instrumenting the engine itself.
func printSamplingTable(dc *corpus.DynamicCorpus) {
	total := int(dc.Count())
	if total == 0 {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"percentile", "idx", "numTests"})
	for _, pct := range []int{0, 50, 90, 91, 95, 99, 100} {
		idx := pct * total / 100
		table.Append([]string{
			strconv.Itoa(pct) + "%",
			strconv.Itoa(idx),
			strconv.Itoa(corpus.NumTestsForDisplay(idx, total)),
		})
	}
	table.Render()
}
