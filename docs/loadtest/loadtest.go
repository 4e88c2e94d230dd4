package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Loadtest: start many shapes-publisher processes side by side. Processes on
// the same domain compete for participant port slots, so this exercises the
// port allocator as well as the publish loop. Each process writes its output
// to its own log file, and a summary is printed at the end.

func main() {
	count := flag.Int("count", 20, "number of publisher processes")
	binary := flag.String("binary", "shapes-publisher", "publisher binary (path or name in PATH)")
	domains := flag.Int("domains", 1, "spread processes over this many domains")
	samples := flag.Int("samples", 30, "samples per publisher, 0 = until interrupted")
	interval := flag.Duration("interval", 100*time.Millisecond, "publish interval")
	subscribers := flag.Int("subscribers", 1, "demo subscribers per publisher")
	delay := flag.Duration("delay", 50*time.Millisecond, "delay between starting processes")
	outDir := flag.String("out", "loadtest-logs", "directory to write per-process logs")
	flag.Parse()

	if *count <= 0 || *domains <= 0 {
		log.Fatalf("invalid count/domains: %d/%d", *count, *domains)
	}

	bin, err := exec.LookPath(*binary)
	if err != nil {
		log.Fatalf("publisher binary not found: %v", err)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("cannot create out dir: %v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	var procs []*exec.Cmd
	var mu sync.Mutex
	var started, failed, exitedWithError int32

	for i := 0; i < *count; i++ {
		domain := i % *domains
		name := fmt.Sprintf("pub%03d_d%d", i, domain)
		cmd := exec.Command(bin,
			"-domain", strconv.Itoa(domain),
			"-sample-count", strconv.Itoa(*samples),
			"-interval", interval.String(),
			"-subscribers", strconv.Itoa(*subscribers),
			"-verbosity", "status_local",
		)
		f, err := os.Create(filepath.Join(*outDir, name+".log"))
		if err != nil {
			log.Fatalf("cannot create log for %s: %v", name, err)
		}
		cmd.Stdout = f
		cmd.Stderr = f

		if err := cmd.Start(); err != nil {
			log.Printf("%s start failed: %v", name, err)
			atomic.AddInt32(&failed, 1)
			f.Close()
			continue
		}
		mu.Lock()
		procs = append(procs, cmd)
		mu.Unlock()
		atomic.AddInt32(&started, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cmd.Wait(); err != nil {
				log.Printf("%s exited: %v", name, err)
				atomic.AddInt32(&exitedWithError, 1)
			}
			f.Close()
		}()

		time.Sleep(*delay)
	}

	log.Printf("started %d processes, %d failed to start", started, failed)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("all publishers exited")
	case <-sigs:
		log.Printf("signal received: interrupting publishers")
		mu.Lock()
		for _, c := range procs {
			if c.Process != nil {
				_ = c.Process.Signal(os.Interrupt)
			}
		}
		mu.Unlock()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			log.Printf("timeout; killing remaining processes")
			mu.Lock()
			for _, c := range procs {
				if c.Process != nil {
					_ = c.Process.Kill()
				}
			}
			mu.Unlock()
		}
	}

	log.Printf("finished: started=%d failed=%d exited_with_error=%d", started, failed, exitedWithError)
	summarizeLogs(*outDir, 10)
}

// summarizeLogs counts match reports and error lines across the process logs.
func summarizeLogs(outDir string, top int) {
	files, err := filepath.Glob(filepath.Join(outDir, "*.log"))
	if err != nil || len(files) == 0 {
		log.Printf("no log files found in %s to summarize", outDir)
		return
	}

	errorsByLine := map[string]int{}
	totalErrors, matches, banners := 0, 0, 0

	for _, f := range files {
		fi, err := os.Open(f)
		if err != nil {
			continue
		}
		r := bufio.NewReader(fi)
		for {
			line, err := r.ReadString('\n')
			if err != nil && err != io.EOF {
				break
			}
			l := strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(l, "on_publication_matched"):
				matches++
			case strings.HasPrefix(l, "Writing an"):
				banners++
			default:
				tail, ok := severityTail(l)
				if !ok {
					break
				}
				l = tail
				errorsByLine[l]++
				totalErrors++
			}
			if err == io.EOF {
				break
			}
		}
		fi.Close()
	}

	log.Printf("log summary: files=%d publishing=%d matches=%d error_lines=%d unique=%d",
		len(files), banners, matches, totalErrors, len(errorsByLine))
	if totalErrors == 0 {
		return
	}

	type kv struct {
		k string
		v int
	}
	arr := make([]kv, 0, len(errorsByLine))
	for k, v := range errorsByLine {
		arr = append(arr, kv{k, v})
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].v > arr[j].v })
	if top > len(arr) {
		top = len(arr)
	}
	for i := 0; i < top; i++ {
		log.Printf("[%d] %d occurrences: %s", i+1, arr[i].v, arr[i].k)
	}
	log.Printf("inspect %s for per-process details", outDir)
}

// severityTail strips the timestamp from a WARN or ERROR log line so repeats
// collapse.
func severityTail(l string) (string, bool) {
	for _, tag := range []string{"ERROR: ", "WARN: "} {
		if i := strings.Index(l, tag); i >= 0 {
			return l[i:], true
		}
	}
	return "", false
}
