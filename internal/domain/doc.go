// Package domain models SSURGO soil survey mapunits and the bounding boxes
// used to request them.
//
// # Data Source
//
// Mapunit polygons come from the NRCS Soil Data Mart web feature service
// (WFS 1.0.0, typenames MapunitPoly and MapunitPolyExtended) as GML feature
// collections. Tabular component and horizon data come from the Soil Data
// Access (SDA) tabular service, or from a local copy of the SSURGO tables.
//
// # Mapunits and Components
//
// A mapunit (key "mukey") is a delineated area on the soil map. It is made up
// of one or more components (key "cokey"), each covering "comppct_r" percent
// of the mapunit. Each component has horizons ordered by top depth; only the
// surface horizon (hzdept_r = 0) is used here.
//
// Attributes carried per component:
//
//	ksat     saturated hydraulic conductivity, micrometres per second (ksat_r)
//	pctClay  total clay, percent of fine earth (claytotal_r)
//	pctSilt  total silt, percent of fine earth (silttotal_r)
//	pctSand  total sand, percent of fine earth (sandtotal_r)
//	texture  texture class name of the representative texture group
//
// Aggregation to one value per mapunit is described on [Aggregate].
//
// # Extents
//
// The feature service refuses very large requests. Requests are bounded by a
// maximum area (square metres for geographic boxes) and larger boxes are split
// into a grid by [TileBoundingBox]. Output files are named after the feature
// type and the tile coordinates, see [OutputFilename].
package domain
