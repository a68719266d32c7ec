// Command debug-raw consumes raw OpenBMP records from Kafka and prints
// their decoded structure — a quick-look tool for the same class of
// problem cmd/ribingest's `dump` subcommand solves against a file.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/route-beacon/rib-ingester/internal/bgp"
	"github.com/route-beacon/rib-ingester/internal/bmp"
	"github.com/route-beacon/rib-ingester/internal/elem"
	"github.com/twmb/franz-go/pkg/kgo"
)

func main() {
	broker := "localhost:29092"
	topic := "gobmp.raw"
	if len(os.Args) > 1 {
		broker = os.Args[1]
	}
	if len(os.Args) > 2 {
		topic = os.Args[2]
	}

	cl, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.ConsumerGroup(fmt.Sprintf("debug-raw-%d", time.Now().UnixNano())),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kafka client: %v\n", err)
		os.Exit(1)
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msgNum := 0
	for {
		fetches := cl.PollRecords(ctx, 100)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			msgNum++
			fmt.Printf("=== Kafka msg %d (partition=%d offset=%d, %d bytes) ===\n",
				msgNum, rec.Partition, rec.Offset, len(rec.Value))

			analyzeMessage(rec.Value)
			fmt.Println()
		})

		if msgNum > 0 && len(fetches.Records()) == 0 {
			break
		}
	}

	fmt.Printf("Total Kafka messages: %d\n", msgNum)
}

func analyzeMessage(data []byte) {
	frame, err := bmp.DecodeOpenBMPFrame(data, 16*1024*1024)
	if err != nil {
		fmt.Printf("  DecodeOpenBMPFrame error: %v\n", err)
		return
	}
	fmt.Printf("  BMP payload: %d bytes\n", len(frame.BMPBytes))
	fmt.Printf("  OpenBMP router IP: %q, router hash: %q\n", frame.RouterIP, frame.RouterHash)

	msgs, err := bmp.ParseAll(frame.BMPBytes)
	if err != nil {
		fmt.Printf("  ParseAll error: %v\n", err)
	}
	fmt.Printf("  BMP messages in payload: %d\n", len(msgs))

	for i, m := range msgs {
		fmt.Printf("\n  --- BMP msg %d ---\n", i)
		fmt.Printf("    MsgType: %d (%s)\n", m.Header.MsgType, bmpMsgName(m.Header.MsgType))

		if m.RouteMonitoring == nil {
			continue
		}
		peer := m.RouteMonitoring.Peer
		fmt.Printf("    PeerType: %d (LocRIB=%v)  PeerFlags: 0x%02x (IPv6=%v PostPolicy=%v)\n",
			peer.PeerType, peer.IsLocRIB(), peer.PeerFlags, peer.IsIPv6(), peer.IsPostPolicy())
		fmt.Printf("    PeerAddress: %s  PeerASN: %s\n", peer.Address, peer.ASN)

		bgpData := m.RouteMonitoring.BGPMessage
		if len(bgpData) < 19 {
			continue
		}
		fmt.Printf("    BGP header hex: %s\n", hex.EncodeToString(bgpData[:19]))

		u, err := bgp.ParseUpdate(bgpData, false, true) // BMP route monitoring is always 4-byte ASN (RFC 7854)
		if err != nil {
			fmt.Printf("    ParseUpdate error: %v\n", err)
			continue
		}
		if u == nil {
			continue
		}

		elems := elem.Project(u, elem.PeerContext{
			Timestamp: time.Unix(int64(peer.TimestampSec), 0),
			PeerIP:    peer.Address,
			PeerASN:   peer.ASN,
		}, elem.Options{})

		if len(elems) == 0 {
			fmt.Printf("    EOR or empty UPDATE\n")
			continue
		}
		fmt.Printf("    Elements: %d\n", len(elems))
		for j, e := range elems {
			if j < 5 || j == len(elems)-1 {
				fmt.Printf("      [%d] %s %s nexthop=%s as_path=%s origin_asns=%v\n",
					j, e.Type, e.Prefix, e.NextHop, e.ASPath, e.OriginASNs)
			} else if j == 5 {
				fmt.Printf("      ... (%d more) ...\n", len(elems)-6)
			}
		}
	}
}

func bmpMsgName(t uint8) string {
	switch t {
	case bmp.MsgTypeRouteMonitoring:
		return "RouteMonitoring"
	case bmp.MsgTypeStatisticsReport:
		return "StatisticsReport"
	case bmp.MsgTypePeerDown:
		return "PeerDown"
	case bmp.MsgTypePeerUp:
		return "PeerUp"
	case bmp.MsgTypeInitiation:
		return "Initiation"
	case bmp.MsgTypeTermination:
		return "Termination"
	case bmp.MsgTypeRouteMirroring:
		return "RouteMirroring"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}
