// Package ctc implements the Connectionist Temporal
// Classification loss and its greedy best-path decoder.
//
// Sequences fed to this package contain one vector per
// timestep with a log probability for every vocabulary
// code.
// Index 0 of each vector is the log probability of the
// blank symbol; labels therefore never contain 0.
//
// For more information on CTC, see this paper:
// http://www.cs.toronto.edu/~graves/icml_2006.pdf.
package ctc
