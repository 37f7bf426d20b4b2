package proto

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

const ServiceName = "spoofdet.LivenessService"

type LivenessServiceServer interface {
	CreateEngine(context.Context, *CreateEngineRequest) (*CreateEngineResponse, error)
	LoadFaceModel(context.Context, *LoadFaceModelRequest) (*LoadModelResponse, error)
	LoadLivenessModels(context.Context, *LoadLivenessModelsRequest) (*LoadModelResponse, error)
	DetectFaces(context.Context, *DetectFacesRequest) (*DetectFacesResponse, error)
	ScoreLiveness(context.Context, *ScoreLivenessRequest) (*ScoreLivenessResponse, error)
	Analyze(context.Context, *AnalyzeRequest) (*AnalyzeResponse, error)
	DestroyEngine(context.Context, *EngineRequest) (*StatusResponse, error)
	CheckEngine(context.Context, *EngineRequest) (*CheckAllEnginesResponse, error)
	CheckAllEngines(context.Context, *emptypb.Empty) (*CheckAllEnginesResponse, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	UploadModel(grpc.ServerStream) error
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the method descriptor for one request/response call.
func unary[Req, Resp any](name string, call func(LivenessServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(LivenessServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

var LivenessService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LivenessServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateEngine", LivenessServiceServer.CreateEngine),
		unary("LoadFaceModel", LivenessServiceServer.LoadFaceModel),
		unary("LoadLivenessModels", LivenessServiceServer.LoadLivenessModels),
		unary("DetectFaces", LivenessServiceServer.DetectFaces),
		unary("ScoreLiveness", LivenessServiceServer.ScoreLiveness),
		unary("Analyze", LivenessServiceServer.Analyze),
		unary("DestroyEngine", LivenessServiceServer.DestroyEngine),
		unary("CheckEngine", LivenessServiceServer.CheckEngine),
		unary("CheckAllEngines", LivenessServiceServer.CheckAllEngines),
		unary("Shutdown", LivenessServiceServer.Shutdown),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "UploadModel",
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(LivenessServiceServer).UploadModel(stream)
			},
			ClientStreams: true,
		},
	},
	Metadata: "spoofdet.proto",
}

func RegisterLivenessServiceServer(s grpc.ServiceRegistrar, srv LivenessServiceServer) {
	s.RegisterService(&LivenessService_ServiceDesc, srv)
}

// LivenessServiceClient calls the service with the JSON codec.
type LivenessServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLivenessServiceClient(cc grpc.ClientConnInterface) *LivenessServiceClient {
	return &LivenessServiceClient{cc: cc}
}

func (c *LivenessServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
}

func (c *LivenessServiceClient) CreateEngine(ctx context.Context, in *CreateEngineRequest, opts ...grpc.CallOption) (*CreateEngineResponse, error) {
	out := new(CreateEngineResponse)
	return out, c.invoke(ctx, "CreateEngine", in, out, opts)
}

func (c *LivenessServiceClient) LoadFaceModel(ctx context.Context, in *LoadFaceModelRequest, opts ...grpc.CallOption) (*LoadModelResponse, error) {
	out := new(LoadModelResponse)
	return out, c.invoke(ctx, "LoadFaceModel", in, out, opts)
}

func (c *LivenessServiceClient) LoadLivenessModels(ctx context.Context, in *LoadLivenessModelsRequest, opts ...grpc.CallOption) (*LoadModelResponse, error) {
	out := new(LoadModelResponse)
	return out, c.invoke(ctx, "LoadLivenessModels", in, out, opts)
}

func (c *LivenessServiceClient) DetectFaces(ctx context.Context, in *DetectFacesRequest, opts ...grpc.CallOption) (*DetectFacesResponse, error) {
	out := new(DetectFacesResponse)
	return out, c.invoke(ctx, "DetectFaces", in, out, opts)
}

func (c *LivenessServiceClient) ScoreLiveness(ctx context.Context, in *ScoreLivenessRequest, opts ...grpc.CallOption) (*ScoreLivenessResponse, error) {
	out := new(ScoreLivenessResponse)
	return out, c.invoke(ctx, "ScoreLiveness", in, out, opts)
}

func (c *LivenessServiceClient) Analyze(ctx context.Context, in *AnalyzeRequest, opts ...grpc.CallOption) (*AnalyzeResponse, error) {
	out := new(AnalyzeResponse)
	return out, c.invoke(ctx, "Analyze", in, out, opts)
}

func (c *LivenessServiceClient) DestroyEngine(ctx context.Context, in *EngineRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	return out, c.invoke(ctx, "DestroyEngine", in, out, opts)
}

func (c *LivenessServiceClient) CheckEngine(ctx context.Context, in *EngineRequest, opts ...grpc.CallOption) (*CheckAllEnginesResponse, error) {
	out := new(CheckAllEnginesResponse)
	return out, c.invoke(ctx, "CheckEngine", in, out, opts)
}

func (c *LivenessServiceClient) CheckAllEngines(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*CheckAllEnginesResponse, error) {
	out := new(CheckAllEnginesResponse)
	return out, c.invoke(ctx, "CheckAllEngines", in, out, opts)
}

func (c *LivenessServiceClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	return out, c.invoke(ctx, "Shutdown", in, out, opts)
}

// UploadModel sends chunks to the server, which stores them as name in its
// model directory.
func (c *LivenessServiceClient) UploadModel(ctx context.Context, name string, chunks [][]byte, opts ...grpc.CallOption) (*UploadModelResponse, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &LivenessService_ServiceDesc.Streams[0], fullMethod("UploadModel"), opts...)
	if err != nil {
		return nil, err
	}
	// io.EOF means the server already answered; its reply is read below.
	if err := sendChunks(stream, name, chunks); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	out := new(UploadModelResponse)
	if err := stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

func sendChunks(stream grpc.ClientStream, name string, chunks [][]byte) error {
	if err := stream.SendMsg(&UploadChunk{Name: name}); err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := stream.SendMsg(&UploadChunk{Data: chunk}); err != nil {
			return err
		}
	}
	return nil
}
