package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/route-beacon/rib-ingester/internal/bgp"
	"github.com/route-beacon/rib-ingester/internal/elem"
	"github.com/route-beacon/rib-ingester/internal/filter"
	"github.com/route-beacon/rib-ingester/internal/mrt"
	"go.uber.org/zap"
)

// dumpElem is the JSON-line shape `dump` emits, mirroring bgpdump/BGPKIT's
// per-element text dump but in JSON — addresses, prefixes, the AS path and
// communities are rendered through their String() methods and ASNs are
// flattened to plain numbers, rather than struct-marshaling elem.BgpElem,
// so the output is readable without knowing this module's internal types.
type dumpElem struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	PeerIP      string    `json:"peer_ip"`
	PeerASN     uint32    `json:"peer_asn"`
	Prefix      string    `json:"prefix"`
	NextHop     string    `json:"next_hop,omitempty"`
	ASPath      string    `json:"as_path,omitempty"`
	OriginASNs  []uint32  `json:"origin_asns,omitempty"`
	Origin      string    `json:"origin,omitempty"`
	LocalPref   *uint32   `json:"local_pref,omitempty"`
	MED         *uint32   `json:"med,omitempty"`
	Communities []string  `json:"communities,omitempty"`
}

func toDumpElem(e elem.BgpElem) dumpElem {
	d := dumpElem{
		Timestamp: e.Timestamp,
		Type:      e.Type.String(),
		PeerIP:    ipString(e.PeerIP),
		PeerASN:   e.PeerASN.Value,
		Prefix:    e.Prefix.String(),
		NextHop:   ipString(e.NextHop),
		LocalPref: e.LocalPref,
		MED:       e.MED,
	}
	if e.ASPath != nil {
		d.ASPath = e.ASPath.String()
	}
	for _, o := range e.OriginASNs {
		d.OriginASNs = append(d.OriginASNs, o.Value)
	}
	if e.Origin != nil {
		d.Origin = bgp.OriginValues[*e.Origin]
	}
	for _, c := range e.Communities {
		d.Communities = append(d.Communities, c.String())
	}
	return d
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

type dumpFlags struct {
	file           string
	addPathAware   bool
	filters        []string
	maxRecordBytes int
}

func parseDumpFlags(args []string) (dumpFlags, error) {
	f := dumpFlags{maxRecordBytes: 16 * 1024 * 1024}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--file":
			if i+1 >= len(args) {
				return f, fmt.Errorf("--file requires a path argument")
			}
			f.file = args[i+1]
			i++
		case "--addpath":
			f.addPathAware = true
		case "--filter":
			if i+1 >= len(args) {
				return f, fmt.Errorf("--filter requires a key=value argument")
			}
			f.filters = append(f.filters, args[i+1])
			i++
		case "--max-record-bytes":
			if i+1 >= len(args) {
				return f, fmt.Errorf("--max-record-bytes requires an integer argument")
			}
			var n int
			if _, err := fmt.Sscanf(args[i+1], "%d", &n); err != nil {
				return f, fmt.Errorf("--max-record-bytes: %w", err)
			}
			f.maxRecordBytes = n
			i++
		}
	}
	if f.file == "" {
		return f, fmt.Errorf("--file is required")
	}
	return f, nil
}

// runDump decodes an MRT file (BGP4MP/BGP4MP_ET live-message dumps or
// TABLE_DUMP_V2 RIB snapshots) into one JSON object per element, written
// to stdout. A record that fails to decode is logged and skipped rather
// than aborting the whole file, per the MRT reader's re-sync contract.
func runDump() {
	flags, err := parseDumpFlags(os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printUsage()
		os.Exit(1)
	}

	logger := initLogger("info")
	defer logger.Sync()

	filterSet, err := filter.Compile(flags.filters)
	if err != nil {
		logger.Fatal("failed to compile --filter specs", zap.Error(err))
	}

	f, err := os.Open(flags.file)
	if err != nil {
		logger.Fatal("failed to open MRT file", zap.Error(err))
	}
	defer f.Close()

	out := bufio.NewWriterSize(os.Stdout, 64*1024)
	defer out.Flush()
	enc := json.NewEncoder(out)

	var peerTable *mrt.PeerIndexTable
	var recordsRead, elementsEmitted, errorsSkipped int

	reader := mrt.NewFallibleReader(f, flags.maxRecordBytes, func(err error) {
		errorsSkipped++
		logger.Warn("skipping malformed MRT record", zap.Error(err))
	})

	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Fatal("MRT stream read failed", zap.Error(err))
		}
		recordsRead++

		emitted := processDumpRecord(rec, &peerTable, flags.addPathAware, filterSet, enc, logger)
		elementsEmitted += emitted
	}

	logger.Info("dump complete",
		zap.String("file", flags.file),
		zap.Int("records_read", recordsRead),
		zap.Int("elements_emitted", elementsEmitted),
		zap.Int("records_skipped", errorsSkipped),
	)
}

func processDumpRecord(rec mrt.Record, peerTable **mrt.PeerIndexTable, addPathAware bool, filterSet *filter.Set, enc *json.Encoder, logger *zap.Logger) int {
	emitted := 0
	switch rec.Header.Type {
	case mrt.TypeBGP4MP, mrt.TypeBGP4MPET:
		bgp4mp, err := mrt.ParseBGP4MP(rec.Header, rec.Payload)
		if err != nil {
			logger.Warn("failed to parse BGP4MP record", zap.Error(err))
			return 0
		}
		if bgp4mp.IsStateChange || len(bgp4mp.BGPMessage) == 0 {
			return 0
		}
		u, err := bgp.ParseUpdate(bgp4mp.BGPMessage, addPathAware, bgp4mp.PeerAS.Is4)
		if err != nil {
			// DuplicateAttribute is non-fatal: u is still usable with the
			// duplicate already discarded, so only warn and keep going.
			logger.Warn("anomaly parsing embedded BGP UPDATE", zap.Error(err))
		}
		if u == nil {
			return 0
		}
		ts := time.Unix(int64(rec.Header.Timestamp), 0).UTC()
		if rec.Header.IsExtendedTimestamp() {
			ts = ts.Add(time.Duration(rec.Header.MicrosecondsET) * time.Microsecond)
		}
		elems := elem.Project(u, elem.PeerContext{
			Timestamp: ts,
			PeerIP:    bgp4mp.PeerIP,
			PeerASN:   bgp4mp.PeerAS,
		}, elem.Options{})
		for _, e := range elems {
			if !filterSet.Match(&e) {
				continue
			}
			if err := enc.Encode(toDumpElem(e)); err != nil {
				logger.Warn("failed to encode element", zap.Error(err))
				continue
			}
			emitted++
		}

	case mrt.TypeTableDumpV2:
		switch rec.Header.Subtype {
		case mrt.SubtypePeerIndexTable:
			t, err := mrt.ParsePeerIndexTable(rec.Payload)
			if err != nil {
				logger.Warn("failed to parse PEER_INDEX_TABLE", zap.Error(err))
				return 0
			}
			*peerTable = t

		case mrt.SubtypeRIBIPv4Unicast, mrt.SubtypeRIBIPv4Multicast, mrt.SubtypeRIBIPv6Unicast,
			mrt.SubtypeRIBIPv6Multicast, mrt.SubtypeRIBGeneric,
			mrt.SubtypeRIBIPv4UnicastAddPath, mrt.SubtypeRIBIPv4MulticastAddPath,
			mrt.SubtypeRIBIPv6UnicastAddPath, mrt.SubtypeRIBIPv6MulticastAddPath, mrt.SubtypeRIBGenericAddPath:
			if *peerTable == nil {
				logger.Warn("RIB record seen before PEER_INDEX_TABLE, skipping")
				return 0
			}
			ribRec, err := mrt.ParseRIBRecord(rec.Header.Subtype, rec.Payload)
			if err != nil {
				logger.Warn("failed to parse RIB record", zap.Error(err))
				return 0
			}
			elems, errs := elem.ProjectRIB(ribRec, *peerTable)
			for _, perr := range errs {
				logger.Warn("skipping RIB entry", zap.Error(perr))
			}
			for _, e := range elems {
				if !filterSet.Match(&e) {
					continue
				}
				if err := enc.Encode(toDumpElem(e)); err != nil {
					logger.Warn("failed to encode element", zap.Error(err))
					continue
				}
				emitted++
			}
		}
	}
	return emitted
}
