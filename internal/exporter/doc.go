// Package exporter writes forecast results to disk as CSV and XLSX report
// files.
//
// CSVWriter is the low-level CSV layer with UTF-8 BOM support for Excel
// compatibility and a streaming variant for large outputs. ReportExporter
// builds the actual forecast reports on top of it: one CSV per run plus a
// multi-sheet XLSX workbook.
package exporter
