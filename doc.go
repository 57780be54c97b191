// Package harvester is a multi-source incremental extraction engine
// for product idea signals. It pulls posts, launches, repositories,
// tweets, and search trends from platform APIs, scores each record for
// pain points, feature requests, and innovation signals, and delivers
// deduplicated rows to a local sink.
//
// # Architecture
//
// Extraction runs per connector through a shared engine (pkg/engine)
// that owns the cross-cutting behavior:
//
//   - sliding-window rate limiting per platform API
//   - retries with exponential backoff and server retry hints
//   - relevance scoring and minimum-score filtering
//   - cursor-based incremental fetch with forward-only advancement
//   - cross-run deduplication with bounded retention
//   - threshold-gated fan-out from primary records into secondary
//     and derived entities
//
// Platform connectors (pkg/connector/platforms) implement only the
// API access: fetching pages, shaping records, and declaring which
// records qualify for follow-up. The pipeline manager (pkg/pipeline)
// schedules sync cycles across connectors with per-connector fault
// isolation and persists cursors and dedup state between runs.
//
// # Usage
//
//	harvester sync --config harvester.yaml
//	harvester run --config harvester.yaml
//	harvester health --config harvester.yaml
//
// See configs/harvester.example.yaml for a complete configuration.
package harvester
