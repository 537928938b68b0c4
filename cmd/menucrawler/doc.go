// Command menucrawler runs one crawl of a dispensary menu catalog and
// lands the extracted price records as CSV artifacts and warehouse rows.
//
// Usage:
//
//	menucrawler -config config.yaml
//	menucrawler -config config.yaml -categories "Whole Flower,Pre-Rolls"
//	menucrawler -config config.yaml -dry-run
//	menucrawler -config config.yaml -discover-stores
//
// The -dry-run flag crawls without touching any sink; -no-csv and
// -no-warehouse disable a single writer. -discover-stores crawls the
// dispensaries index instead and prints store candidates for the
// configured region.
package main
