// dlq-inspect lists and replays dead letters through a service's admin gRPC
// endpoint, and requeues outbox rows the relay parked.
//
//	dlq-inspect -addr localhost:9082 list -consumer student-service
//	dlq-inspect -addr localhost:9082 replay 42
//	dlq-inspect -addr localhost:9081 parked
//	dlq-inspect -addr localhost:9081 requeue all
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/config"
	"github.com/md-rashed-zaman/schoolsync/libs/deadletter"
	"github.com/md-rashed-zaman/schoolsync/libs/grpcx"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
)

func main() {
	addr := flag.String("addr", config.String("DLQ_ADMIN_ADDR", "localhost:9082"), "admin gRPC address")
	timeout := flag.Duration("timeout", config.Duration("DLQ_TIMEOUT", 5*time.Second), "call timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := grpcx.Dial(ctx, *addr, grpcx.DialOptions{Timeout: *timeout})
	if err != nil {
		fatal("dial %s: %v", *addr, err)
	}
	defer conn.Close()
	client := deadletter.NewAdminClient(conn)

	switch args[0] {
	case "list":
		list(ctx, client, args[1:])
	case "replay":
		if len(args) != 2 {
			usage()
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fatal("invalid id %q", args[1])
		}
		if err := client.Replay(ctx, id); err != nil {
			fatal("replay %d: %v", id, err)
		}
		fmt.Printf("replayed %d\n", id)
	case "parked":
		parked(ctx, client, args[1:])
	case "requeue":
		if len(args) != 2 {
			usage()
		}
		var id int64
		if args[1] != "all" {
			id, err = strconv.ParseInt(args[1], 10, 64)
			if err != nil || id <= 0 {
				fatal("invalid id %q", args[1])
			}
		}
		n, err := client.Requeue(ctx, id)
		if err != nil {
			fatal("requeue %s: %v", args[1], err)
		}
		fmt.Printf("requeued %d\n", n)
	default:
		usage()
	}
}

func list(ctx context.Context, client *deadletter.AdminClient, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	consumer := fs.String("consumer", config.String("DLQ_CONSUMER", ""), "consumer group")
	tenantID := fs.String("tenant", "", "tenant id")
	after := fs.Int64("after", 0, "page after this id")
	limit := fs.Int("limit", config.Int("DLQ_PAGE_SIZE", 50), "page size")
	all := fs.Bool("all", config.Bool("DLQ_INCLUDE_REPLAYED", false), "include replayed entries")
	_ = fs.Parse(args)

	if *tenantID != "" {
		// forwarded as x-tenant-id metadata
		ctx = tenant.WithTenant(ctx, tenant.ID(*tenantID))
	}
	entries, err := client.List(ctx, deadletter.Filter{
		Consumer:        *consumer,
		TenantID:        *tenantID,
		AfterID:         *after,
		Limit:           *limit,
		IncludeReplayed: *all,
	})
	if err != nil {
		fatal("list: %v", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFAILED\tCONSUMER\tSUBSCRIBER\tTYPE\tTENANT\tREASON\tATTEMPTS\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.ID, e.FailedAt.Format(time.RFC3339), e.Consumer, e.Subscriber, e.EventType,
			e.TenantID, e.Reason, e.Attempts, truncate(e.Error, 60))
	}
	_ = tw.Flush()
}

func parked(ctx context.Context, client *deadletter.AdminClient, args []string) {
	fs := flag.NewFlagSet("parked", flag.ExitOnError)
	after := fs.Int64("after", 0, "page after this id")
	limit := fs.Int("limit", config.Int("DLQ_PAGE_SIZE", 50), "page size")
	_ = fs.Parse(args)

	recs, err := client.ListParked(ctx, *after, *limit)
	if err != nil {
		fatal("parked: %v", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tTYPE\tTENANT\tTOPIC\tATTEMPTS\tERROR")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), r.EventType, r.TenantID, r.Topic, r.Attempts, truncate(r.LastError, 60))
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dlq-inspect [-addr host:port] list [-consumer c] [-tenant t] [-after id] [-limit n] [-all]")
	fmt.Fprintln(os.Stderr, "       dlq-inspect [-addr host:port] replay <id>")
	fmt.Fprintln(os.Stderr, "       dlq-inspect [-addr host:port] parked [-after id] [-limit n]")
	fmt.Fprintln(os.Stderr, "       dlq-inspect [-addr host:port] requeue <id|all>")
	os.Exit(2)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
