// Package domain models a tropical cyclone best track and the NOAA MiRS
// satellite granules that observed it.
//
// # Best Track
//
// Track points come from IBTrACS (International Best Track Archive for
// Climate Stewardship), https://www.ncei.noaa.gov/products/international-best-track-archive.
// Each fix carries:
//
//	SID       storm identifier, e.g. "2021239N17281"
//	ISO_TIME  "2006-01-02 15:04:05" in UTC, typically 3-hourly
//	LAT/LON   degrees, longitude in [-180, 180]
//	WMO_WIND  knots, blank when the responsible agency did not report
//	WMO_PRES  millibars, blank likewise
//
// The 2021 archive has systematically blank WMO fields for early fixes, so
// the loader keeps such rows with absent intensity instead of dropping them.
//
// # MiRS Granules
//
// The Microwave Integrated Retrieval System publishes one netCDF file per
// overpass and product:
//
//	IMG  imagery: surface and column products on the fine swath grid
//	SND  sounding: layered profiles (PTemp, PVapor, ...) on a coarser grid
//
// Both are indexed (Scanline, Field_of_view). Observation time is the
// time_coverage_start / time_coverage_end global attribute pair; the
// nominal time is their midpoint.
//
// # Dateline Wrap
//
// A granule whose longitude grid touches both -180 and +180 has a bounding
// box covering the whole globe. For basins where a storm cannot be near the
// dateline (North and South Atlantic) such granules are rejected outright.
//
// # Slots
//
// Merged grids are indexed by track point. A slot is the per-point cell of
// a merged grid: it holds exactly one granule (closest in time, ties broken
// by source identifier) or the fill value [FillValue].
package domain
