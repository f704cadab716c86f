// Command dohtest exercises the DoH resolver against live providers.
// It is a development tool: the -compare mode deliberately queries the
// operating system resolver so the two answer sets can be diffed.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/domainstack/probekit/pkg/doh"
)

func main() {
	resolve := flag.String("resolve", "", "Resolve hostname to IP addresses")
	compareWithSystem := flag.Bool("compare", false, "Compare DoH resolution with the system resolver")
	order := flag.String("order", "", "Print the provider try order for a hostname")
	health := flag.Bool("health", false, "Probe every provider and report health")
	benchmark := flag.Bool("benchmark", false, "Benchmark DoH resolution")
	benchmarkQueries := flag.Int("queries", 10, "Number of queries for benchmark")
	cacheSize := flag.Int("cache-size", 512, "Answer cache size, 0 disables caching")
	verbose := flag.Bool("verbose", false, "Enable verbose output")

	flag.Parse()

	resolver, err := doh.NewResolver(doh.Options{
		CacheSize: *cacheSize,
		UserAgent: "probekit-dohtest/1.0",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating resolver: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *resolve != "":
		runResolve(resolver, *resolve, *compareWithSystem, *verbose)
	case *order != "":
		runOrder(resolver, *order)
	case *health:
		runHealth(resolver)
	case *benchmark:
		runBenchmark(resolver, *benchmarkQueries, *cacheSize > 0, *verbose)
	default:
		fmt.Println("probekit DoH resolver tester")
		fmt.Println("Usage:")
		flag.PrintDefaults()
	}
}

func runResolve(resolver *doh.Resolver, hostname string, compareWithSystem, verbose bool) {
	fmt.Printf("Resolving %s over DoH...\n", hostname)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := resolver.LookupAddrs(ctx, hostname)
	elapsed := time.Since(start)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving %s: %v\n", hostname, err)
		os.Exit(1)
	}

	fmt.Printf("DoH resolution: %s\n", formatAddrs(addrs))
	fmt.Printf("Resolution time: %v\n", elapsed)
	if verbose {
		for _, a := range addrs {
			fmt.Printf("  %s (IPv%d)\n", a.IP, a.Family)
		}
	}

	if compareWithSystem {
		fmt.Printf("\nComparing with system DNS...\n")
		start = time.Now()
		systemIPs, err := net.DefaultResolver.LookupIP(ctx, "ip", hostname)
		systemElapsed := time.Since(start)

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving with system DNS: %v\n", err)
			return
		}

		fmt.Printf("System DNS resolution: %s\n", formatIPs(systemIPs))
		fmt.Printf("System resolution time: %v\n", systemElapsed)

		dohSet := makeAddrSet(addrs)
		systemSet := makeIPSet(systemIPs)

		onlyInDoH := difference(dohSet, systemSet)
		onlyInSystem := difference(systemSet, dohSet)

		if len(onlyInDoH) > 0 {
			fmt.Printf("\nIPs only in DoH resolution: %s\n", formatIPSet(onlyInDoH))
		}
		if len(onlyInSystem) > 0 {
			fmt.Printf("IPs only in system resolution: %s\n", formatIPSet(onlyInSystem))
		}
		if len(onlyInDoH) == 0 && len(onlyInSystem) == 0 {
			fmt.Println("\nBoth resolvers returned identical results.")
		}

		speedup := float64(systemElapsed) / float64(elapsed)
		fmt.Printf("DoH resolver is %.2fx %s than the system resolver\n",
			abs(speedup), speedDesc(speedup))
	}
}

func runOrder(resolver *doh.Resolver, hostname string) {
	fmt.Printf("Provider try order for %s:\n", hostname)
	for i, p := range resolver.ProviderOrder(hostname) {
		fmt.Printf("%d) %s\t%s\n", i+1, p.Key, p.URL)
	}
}

func runHealth(resolver *doh.Resolver) {
	fmt.Println("Probing providers...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results := doh.NewHealthChecker(resolver, "", nil).CheckAll(ctx)

	healthy := 0
	for _, r := range results {
		if r.Healthy {
			healthy++
			fmt.Printf("✅ %s\tlatency=%v\tsmoothed=%v\n", r.Provider.Key, r.Latency, r.Smoothed)
		} else {
			fmt.Printf("❌ %s\terror=%v\n", r.Provider.Key, r.Err)
		}
	}

	fmt.Printf("\n%d/%d providers healthy\n", healthy, len(results))
	if healthy == 0 {
		os.Exit(1)
	}
}

func runBenchmark(resolver *doh.Resolver, queries int, cacheEnabled, verbose bool) {
	fmt.Printf("Benchmarking DoH resolver with %d queries...\n", queries)

	domains := []string{
		"example.com",
		"google.com",
		"cloudflare.com",
		"github.com",
		"wikipedia.org",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// The first query pays for connection setup, keep it out of the stats.
	fmt.Println("Warming up resolver...")
	_, _ = resolver.LookupAddrs(ctx, "example.com")

	fmt.Println("Running benchmark...")
	var totalTime time.Duration
	var successes, failures int

	for i := 0; i < queries; i++ {
		domain := domains[i%len(domains)]

		start := time.Now()
		addrs, err := resolver.LookupAddrs(ctx, domain)
		elapsed := time.Since(start)

		if err != nil {
			failures++
			if verbose {
				fmt.Printf("❌ Failed to resolve %s: %v\n", domain, err)
			}
		} else {
			successes++
			totalTime += elapsed
			if verbose {
				fmt.Printf("✅ Resolved %s to %s in %v\n", domain, formatAddrs(addrs), elapsed)
			}
		}
	}

	fmt.Println("\nBenchmark Results:")
	fmt.Printf("Total queries: %d\n", queries)
	fmt.Printf("Successful: %d\n", successes)
	fmt.Printf("Failed: %d\n", failures)

	if successes > 0 {
		fmt.Printf("Average resolution time: %v\n", totalTime/time.Duration(successes))
	}

	if successes == 0 {
		return
	}
	if !cacheEnabled {
		fmt.Println("\nCache disabled, skipping cache test.")
		return
	}

	fmt.Println("\nTesting cache performance...")
	domain := domains[0]

	start := time.Now()
	_, _ = resolver.LookupAddrsCached(ctx, domain)
	firstElapsed := time.Since(start)

	start = time.Now()
	_, _ = resolver.LookupAddrsCached(ctx, domain)
	secondElapsed := time.Since(start)

	fmt.Printf("First query time: %v\n", firstElapsed)
	fmt.Printf("Second query time (cached): %v\n", secondElapsed)

	if secondElapsed < firstElapsed {
		speedup := float64(firstElapsed) / float64(secondElapsed)
		fmt.Printf("Cache speedup: %.2fx\n", speedup)
	}
}

func formatAddrs(addrs []doh.Address) string {
	strs := make([]string, len(addrs))
	for i, a := range addrs {
		strs[i] = a.String()
	}
	return strings.Join(strs, ", ")
}

func formatIPs(ips []net.IP) string {
	strs := make([]string, len(ips))
	for i, ip := range ips {
		strs[i] = ip.String()
	}
	return strings.Join(strs, ", ")
}

func makeAddrSet(addrs []doh.Address) map[string]struct{} {
	set := make(map[string]struct{})
	for _, a := range addrs {
		set[a.String()] = struct{}{}
	}
	return set
}

func makeIPSet(ips []net.IP) map[string]struct{} {
	set := make(map[string]struct{})
	for _, ip := range ips {
		set[ip.String()] = struct{}{}
	}
	return set
}

func formatIPSet(set map[string]struct{}) string {
	ips := make([]string, 0, len(set))
	for ip := range set {
		ips = append(ips, ip)
	}
	return strings.Join(ips, ", ")
}

func difference(a, b map[string]struct{}) map[string]struct{} {
	diff := make(map[string]struct{})
	for k := range a {
		if _, found := b[k]; !found {
			diff[k] = struct{}{}
		}
	}
	return diff
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func speedDesc(ratio float64) string {
	if ratio > 1 {
		return "faster"
	}
	return "slower"
}
