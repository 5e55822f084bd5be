package features

import (
	"bytes"
	"math"
)

// HighEntropyThreshold marks payloads that look compressed or encrypted
const HighEntropyThreshold = 7.0

// fileSignatures are magic numbers of common file formats
var fileSignatures = [][]byte{
	{0x89, 'P', 'N', 'G'},      // PNG
	{0xFF, 0xD8, 0xFF},         // JPEG
	[]byte("%PDF"),             // PDF
	{'P', 'K', 0x03, 0x04},     // ZIP, Office documents
	{0x1F, 0x8B},               // GZIP
	{0x7F, 'E', 'L', 'F'},      // ELF
	{'M', 'Z'},                 // PE
	{'R', 'a', 'r', '!', 0x1A}, // RAR
}

// PacketProfile summarises the content of one payload
type PacketProfile struct {
	Size             int     `json:"size"`
	Entropy          float64 `json:"entropy"`
	HasFileSignature bool    `json:"has_file_signature"`
	PrintableRatio   float64 `json:"printable_ratio"`
}

// PacketFeatures profiles a raw payload
func PacketFeatures(payload []byte) PacketProfile {
	p := PacketProfile{Size: len(payload)}
	if len(payload) == 0 {
		return p
	}

	var counts [256]int
	printable := 0
	for _, b := range payload {
		counts[b]++
		if b >= 0x20 && b < 0x7F || b == '\n' || b == '\r' || b == '\t' {
			printable++
		}
	}

	p.Entropy = shannonEntropy(counts[:], len(payload))
	p.PrintableRatio = float64(printable) / float64(len(payload))
	for _, sig := range fileSignatures {
		if bytes.HasPrefix(payload, sig) {
			p.HasFileSignature = true
			break
		}
	}
	return p
}

// shannonEntropy returns bits per symbol of a byte histogram
func shannonEntropy(counts []int, total int) float64 {
	if total == 0 {
		return 0.0
	}

	entropy := 0.0
	for _, count := range counts {
		if count > 0 {
			p := float64(count) / float64(total)
			entropy -= p * math.Log2(p)
		}
	}

	return entropy
}
