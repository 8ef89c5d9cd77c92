package metadata

/** @brief Describes a type of job */
type JobType int

const (
	/**
	 * @brief A general job that does not have any specific thread requirements.
	 * This means it matters little which job thread this job runs on.
	 */
	JOB_TYPE_GENERAL JobType = 0x02
	/**
	 * @brief A resource loading job. Resources should always load on the same thread
	 * to avoid potential disk thrashing.
	 */
	JOB_TYPE_RESOURCE_LOAD JobType = 0x04
	/**
	 * @brief Jobs using GPU resources. These only ever run on the device thread
	 * and are rejected by the worker pools.
	 */
	JOB_TYPE_GPU_RESOURCE JobType = 0x08
)

func (t JobType) String() string {
	switch t {
	case JOB_TYPE_GENERAL:
		return "general"
	case JOB_TYPE_RESOURCE_LOAD:
		return "resource_load"
	case JOB_TYPE_GPU_RESOURCE:
		return "gpu_resource"
	default:
		return "unknown"
	}
}

/**
 * @brief Describes a job to be run.
 */
type JobTask struct {
	/** @brief The type of job. Used to determine which pool may run it. */
	Type JobType
	/** @brief Invoked when the job starts. Required. */
	OnStart func() error
	/** @brief Invoked when OnStart succeeds. Optional. */
	OnComplete func()
	/** @brief Invoked with the error returned by OnStart. Optional. */
	OnFailure func(err error)
}
