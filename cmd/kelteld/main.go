package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"google.golang.org/grpc"

	"xdao.co/keltel/controller"
	"xdao.co/keltel/grpctel"
	"xdao.co/keltel/said"
)

func main() {
	fs := flag.NewFlagSet("kelteld", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:7788", "listen address")
	kelRoot := fs.String("kel-root", "", "key event log storage root")
	telRoot := fs.String("tel-root", "", "transaction event log storage root")
	alg := fs.String("alg", string(said.Blake3), "digest algorithm for event identifiers")

	_ = fs.Parse(os.Args[1:])
	if *kelRoot == "" || *telRoot == "" {
		fmt.Fprintln(os.Stderr, "kelteld: -kel-root and -tel-root are required")
		os.Exit(2)
	}

	ctrl, err := controller.Open(*kelRoot, *telRoot, said.Alg(*alg))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lis.Close()

	s := grpc.NewServer()
	grpctel.RegisterTELServer(s, &grpctel.Server{Controller: ctrl})

	fmt.Fprintf(os.Stderr, "kelteld listening on %s (kel=%s tel=%s)\n", lis.Addr().String(), *kelRoot, *telRoot)
	if err := s.Serve(lis); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
