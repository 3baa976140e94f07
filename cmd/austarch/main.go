// Command austarch loads the AustArch radiocarbon and luminescence dates
// into Postgres/PostGIS and reports on the loaded archive.
package main

func main() {
	Execute()
}
