package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"SpoofDetServer/client"
	proto "SpoofDetServer/gRPC"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
)

var (
	httpAddr string
	rpcAddr  string
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Talk to a running server",
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the HTTP API answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.New(httpAddr).Ping(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "pong")
		return nil
	},
}

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List engines and their state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engines, err := client.New(httpAddr).Engines(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), engines)
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models in the server's model directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := client.New(httpAddr).Models(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), names)
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a model file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		up, err := client.New(httpAddr).UploadModel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), up)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze ENGINE IMAGE",
	Short: "Analyze an image file on a remote engine",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		results, err := client.New(httpAddr).AnalyzeImage(cmd.Context(), args[0], data)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), results)
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask the server to stop over gRPC",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := grpc.NewClient(rpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		defer conn.Close()
		if _, err := proto.NewLivenessServiceClient(conn).Shutdown(cmd.Context(), &emptypb.Empty{}); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
		return nil
	},
}

func init() {
	remoteCmd.PersistentFlags().StringVar(&httpAddr, "addr", "http://localhost:8080", "HTTP API base URL")
	remoteCmd.PersistentFlags().StringVar(&rpcAddr, "rpc", "localhost:50051", "gRPC address")
	remoteCmd.AddCommand(pingCmd, enginesCmd, modelsCmd, uploadCmd, analyzeCmd, shutdownCmd)
	rootCmd.AddCommand(remoteCmd)
}
